package features

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// writeParquet encodes the frame with the columnar engine: one int64 ts
// column plus a required double column per series.
func writeParquet(f *os.File, frame *domain.Frame) error {
	group := parquet.Group{"ts": parquet.Leaf(parquet.Int64Type)}
	for _, c := range frame.Columns() {
		group[c] = parquet.Leaf(parquet.DoubleType)
	}
	schema := parquet.NewSchema("frame", group)
	w := parquet.NewGenericWriter[map[string]any](f, schema)

	cols := frame.Columns()
	rows := make([]map[string]any, frame.Len())
	for i := range rows {
		row := make(map[string]any, len(cols)+1)
		row["ts"] = frame.Ts[i]
		for _, c := range cols {
			row[c] = frame.Column(c)[i]
		}
		rows[i] = row
	}
	if _, err := w.Write(rows); err != nil {
		return err
	}
	return w.Close()
}

func readParquet(path string) (*domain.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, err
	}
	schema := pf.Schema()
	reader := parquet.NewGenericReader[map[string]any](f, schema)
	defer reader.Close()

	n := int(pf.NumRows())
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{}
	}
	read := 0
	for read < n {
		k, err := reader.Read(rows[read:])
		read += k
		if err != nil {
			if read >= n {
				break
			}
			return nil, err
		}
		if k == 0 {
			break
		}
	}
	if read != n {
		return nil, fmt.Errorf("short parquet read: %d of %d rows", read, n)
	}

	ts := make([]int64, n)
	series := map[string][]float64{}
	var order []string
	for _, field := range schema.Fields() {
		if field.Name() == "ts" {
			continue
		}
		order = append(order, field.Name())
		series[field.Name()] = make([]float64, n)
	}
	for i, row := range rows {
		for name, v := range row {
			if name == "ts" {
				tv, ok := v.(int64)
				if !ok {
					return nil, fmt.Errorf("row %d: ts is %T", i, v)
				}
				ts[i] = tv
				continue
			}
			fv, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("row %d: column %s is %T", i, name, v)
			}
			series[name][i] = fv
		}
	}
	frame := domain.NewFrame(ts)
	for _, name := range order {
		frame.MustSetColumn(name, series[name])
	}
	return frame, nil
}

// writeCSVFallback encodes the frame as CSV under the .parquet name. Cell
// values use the shortest float form; NaN cells are empty.
func writeCSVFallback(path string, frame *domain.Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	cols := frame.Columns()
	header := append([]string{"ts"}, cols...)
	if err := w.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for i := 0; i < frame.Len(); i++ {
		record[0] = strconv.FormatInt(frame.Ts[i], 10)
		for j, c := range cols {
			v := frame.Column(c)[i]
			if math.IsNaN(v) {
				record[j+1] = ""
			} else {
				record[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func readCSVFallback(path string) (*domain.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 || records[0][0] != "ts" {
		return nil, fmt.Errorf("not a csv fallback frame")
	}
	header := records[0]
	n := len(records) - 1
	ts := make([]int64, n)
	series := make([][]float64, len(header)-1)
	for j := range series {
		series[j] = make([]float64, n)
	}
	for i, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("row %d: field count mismatch", i)
		}
		ts[i], err = strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, err
		}
		for j := 1; j < len(rec); j++ {
			if rec[j] == "" {
				series[j-1][i] = math.NaN()
				continue
			}
			series[j-1][i], err = strconv.ParseFloat(rec[j], 64)
			if err != nil {
				return nil, err
			}
		}
	}
	frame := domain.NewFrame(ts)
	for j := 1; j < len(header); j++ {
		frame.MustSetColumn(header[j], series[j-1])
	}
	return frame, nil
}
