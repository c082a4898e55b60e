package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// Content file names the writer produces and the index whitelists.
const (
	FileManifest         = "manifest.json"
	FileSummary          = "summary.json"
	FileMetrics          = "metrics.json"
	FileValidation       = "validation.json"
	FileValidationDetail = "validation_detail.json"
	FileEquity           = "equity.parquet"
	FileTrades           = "trades.parquet"
	FilePlots            = "plots.png"
	FileColdManifest     = "cold_manifest.json"
	EvictedDir           = ".evicted"
)

// indexWhitelist filters the artifact index returned to clients.
var indexWhitelist = map[string]struct{}{
	FileSummary: {}, FileMetrics: {}, FileValidation: {}, FileValidationDetail: {},
	FileEquity: {}, FileTrades: {}, FilePlots: {},
}

// minimal 1x1 transparent PNG, written when no plot was produced so the
// artifact set is always complete.
var placeholderPNG = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4, 0x89, 0x00, 0x00, 0x00,
	0x0A, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9C, 0x63, 0x60, 0x00, 0x00, 0x00,
	0x02, 0x00, 0x01, 0xE2, 0x26, 0x05, 0x9B, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4E, 0x44, 0xAE, 0x42, 0x60, 0x82,
}

// Writer persists run artifacts under <root>/<run_hash>/ and maintains the
// process-local manifest chain: each manifest's chain_prev points at the
// most recently finalized manifest hash.
type Writer struct {
	root string
	log  zerolog.Logger

	mu        sync.Mutex
	lastChain string
}

// NewWriter creates an artifact writer rooted at dir.
func NewWriter(root string, log zerolog.Logger) *Writer {
	return &Writer{root: root, log: log.With().Str("service", "artifacts").Logger()}
}

// Root returns the artifact root directory.
func (w *Writer) Root() string { return w.root }

// RunDir returns the artifact directory for a run.
func (w *Writer) RunDir(runHash string) string { return filepath.Join(w.root, runHash) }

// Payload bundles everything the writer persists for one completed run.
type Payload struct {
	Summary          map[string]any
	Metrics          map[string]any
	Validation       any // summary-level validation view
	ValidationDetail any // full distributions
	EquityCurve      []domain.EquityBar
	Trades           []domain.CompletedTrade

	DataHash   string
	CalendarID string
	Symbol     string
	Timeframe  string

	MetricsHash     string
	EquityCurveHash string
}

// Write persists all content files and finalizes the manifest. It returns
// the manifest (with its hash populated). A failed content write is retried
// once; if it still fails the manifest is not written and the run's artifact
// set is considered incomplete.
func (w *Writer) Write(runHash string, payload *Payload) (*Manifest, error) {
	dir := w.RunDir(runHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	files := []struct {
		name string
		kind string
		data func() ([]byte, error)
	}{
		{FileSummary, "json", func() ([]byte, error) { return marshalJSON(payload.Summary) }},
		{FileMetrics, "json", func() ([]byte, error) { return marshalJSON(payload.Metrics) }},
		{FileValidation, "json", func() ([]byte, error) { return marshalJSON(payload.Validation) }},
		{FileValidationDetail, "json", func() ([]byte, error) { return marshalJSON(payload.ValidationDetail) }},
		{FileEquity, "parquet", func() ([]byte, error) { return encodeEquity(payload.EquityCurve) }},
		{FileTrades, "parquet", func() ([]byte, error) { return encodeTrades(payload.Trades) }},
		{FilePlots, "png", func() ([]byte, error) { return placeholderPNG, nil }},
	}

	var entries []Entry
	for _, f := range files {
		data, err := f.data()
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.name, err)
		}
		path := filepath.Join(dir, f.name)
		if err := writeFileRetry(path, data); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
		sum := sha256.Sum256(data)
		entries = append(entries, Entry{
			Name:   f.name,
			Kind:   f.kind,
			SHA256: hex.EncodeToString(sum[:]),
			Bytes:  int64(len(data)),
		})
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	manifest := &Manifest{
		Entries:         entries,
		ChainPrev:       w.lastChain,
		DataHash:        payload.DataHash,
		CalendarID:      payload.CalendarID,
		Symbol:          payload.Symbol,
		Timeframe:       payload.Timeframe,
		MetricsHash:     payload.MetricsHash,
		EquityCurveHash: payload.EquityCurveHash,
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	manifest.ManifestHash = manifest.Hash()

	data, err := marshalJSON(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeFileRetry(filepath.Join(dir, FileManifest), data); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	w.lastChain = manifest.ManifestHash
	w.log.Debug().Str("run_hash", runHash).Str("manifest_hash", manifest.ManifestHash[:12]).Msg("Artifacts finalized")
	return manifest, nil
}

// ReadManifest loads a run's manifest from disk.
func (w *Writer) ReadManifest(runHash string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(w.RunDir(runHash), FileManifest))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// IndexItem is one artifact index row.
type IndexItem struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Index lists the run's whitelisted content files, excluding the manifest
// itself and anything staged under .evicted.
func (w *Writer) Index(runHash string) ([]IndexItem, error) {
	dir := w.RunDir(runHash)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []IndexItem{}, nil
		}
		return nil, err
	}
	var out []IndexItem
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := indexWhitelist[e.Name()]; !ok {
			continue
		}
		path := filepath.Join(dir, e.Name())
		sum, size, err := fileSHA256(path)
		if err != nil {
			continue
		}
		out = append(out, IndexItem{Name: e.Name(), SHA256: sum, Size: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// writeFileRetry writes via tmp-rename, retrying once on failure.
func writeFileRetry(path string, data []byte) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = writeFileAtomic(path, data); err == nil {
			return nil
		}
	}
	return err
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		v = map[string]any{}
	}
	return json.Marshal(v)
}

func fileSHA256(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
