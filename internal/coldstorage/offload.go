package coldstorage

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ManifestName is the per-run cold manifest written next to the run's
// artifact manifest.
const ManifestName = "cold_manifest.json"

func newBytesReader(data []byte) io.Reader { return bytes.NewReader(data) }

// Manifest records one offloaded object.
type Manifest struct {
	Provider   string   `json:"provider"`
	Key        string   `json:"key"`
	RunHash    string   `json:"run_hash"`
	CreatedAt  int64    `json:"created_at"`
	Files      []string `json:"files"`
	Bytes      int64    `json:"bytes"`
	Count      int      `json:"count"`
	RestoredAt int64    `json:"restored_at,omitempty"`
}

// Service packs evicted run files into tar.gz objects and restores them.
// All operations are best-effort from retention's point of view: callers
// log failures and continue.
type Service struct {
	provider Provider
	root     string // artifact root
	prefix   string
	log      zerolog.Logger
	now      func() time.Time
}

// NewService creates a cold storage service over the given provider.
func NewService(provider Provider, artifactRoot, prefix string, log zerolog.Logger) *Service {
	return &Service{
		provider: provider,
		root:     artifactRoot,
		prefix:   prefix,
		log:      log.With().Str("service", "cold_storage").Logger(),
		now:      time.Now,
	}
}

func (s *Service) manifestPath(runHash string) string {
	return filepath.Join(s.root, runHash, ManifestName)
}

// Offload packs files into one tar.gz object keyed
// <prefix>/runs/<run_hash>/<ts>.tar.gz, uploads it, writes the cold
// manifest, and deletes the originals on success.
func (s *Service) Offload(ctx context.Context, runHash string, files []string) error {
	if len(files) == 0 {
		return nil
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	var names []string
	for _, path := range files {
		st, err := os.Stat(path)
		if err != nil || st.IsDir() {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		hdr := &tar.Header{
			Name:    filepath.Base(path),
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: st.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("tar header %s: %w", hdr.Name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("tar write %s: %w", hdr.Name, err)
		}
		names = append(names, filepath.Base(path))
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}

	ts := s.now().Unix()
	key := strings.TrimPrefix(fmt.Sprintf("%s/runs/%s/%d.tar.gz", strings.TrimSuffix(s.prefix, "/"), runHash, ts), "/")
	if err := s.provider.PutObject(ctx, key, buf.Bytes()); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	manifest := Manifest{
		Provider:  s.provider.Name(),
		Key:       key,
		RunHash:   runHash,
		CreatedAt: ts,
		Files:     names,
		Bytes:     int64(buf.Len()),
		Count:     len(names),
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.manifestPath(runHash), data, 0o644); err != nil {
		return fmt.Errorf("write cold manifest: %w", err)
	}

	// Delete originals only after the object and manifest are durable.
	for _, path := range files {
		base := filepath.Base(path)
		if base == "manifest.json" || base == ManifestName {
			continue
		}
		_ = os.Remove(path)
	}
	logHash := runHash
	if len(logHash) > 12 {
		logHash = logHash[:12]
	}
	s.log.Info().Str("run_hash", logHash).Str("key", key).Int("files", len(names)).Msg("Run offloaded to cold storage")
	return nil
}

// Restore downloads the run's cold object and extracts members into the run
// directory without overwriting existing files. Returns whether any file
// was restored.
func (s *Service) Restore(ctx context.Context, runHash string) (bool, error) {
	raw, err := os.ReadFile(s.manifestPath(runHash))
	if err != nil {
		return false, err
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return false, err
	}
	if manifest.Key == "" {
		return false, fmt.Errorf("cold manifest for %s has no object key", runHash)
	}
	data, err := s.provider.GetObject(ctx, manifest.Key)
	if err != nil {
		return false, fmt.Errorf("download %s: %w", manifest.Key, err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	runDir := filepath.Join(s.root, runHash)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return false, err
	}
	restored := false
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, err
		}
		name := filepath.Base(hdr.Name)
		dest := filepath.Join(runDir, name)
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return restored, err
		}
		if err := os.WriteFile(dest, content, 0o644); err != nil {
			return restored, err
		}
		restored = true
	}

	manifest.RestoredAt = s.now().Unix()
	if data, err := json.Marshal(manifest); err == nil {
		_ = os.WriteFile(s.manifestPath(runHash), data, 0o644)
	}
	logHash := runHash
	if len(logHash) > 12 {
		logHash = logHash[:12]
	}
	s.log.Info().Str("run_hash", logHash).Bool("restored", restored).Msg("Cold storage restore finished")
	return restored, nil
}

// HasManifest reports whether a cold manifest exists for the run.
func (s *Service) HasManifest(runHash string) bool {
	_, err := os.Stat(s.manifestPath(runHash))
	return err == nil
}
