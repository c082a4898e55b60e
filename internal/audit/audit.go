// Package audit implements the append-only, hash-chained JSON-lines audit
// log for retention and lifecycle events, with gzip rotation anchored by an
// integrity snapshot.
package audit

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friscapuff/alphaforge-brain/internal/canonical"
)

// File names under the artifact root.
const (
	FileName          = "audit.log"
	RotatedPrefix     = "audit.log."
	IntegritySnapshot = "audit_integrity.json"
)

// DefaultRotateBytes is the rotation threshold when none is configured.
const DefaultRotateBytes = 1_000_000

// Event names recorded by the lifecycle operations.
const (
	EventPin             = "PIN"
	EventUnpin           = "UNPIN"
	EventRetentionApply  = "RETENTION_APPLY"
	EventDemote          = "DEMOTE"
	EventRehydrate       = "REHYDRATE"
	EventRestore         = "RESTORE"
	EventRetentionConfig = "RETENTION_CONFIG_UPDATE"
)

// Record is one audit line. Hash covers the canonical serialization of the
// record without the hash field; PrevHash chains to the previous line.
type Record struct {
	Ts       string         `json:"ts"`
	Event    string         `json:"event"`
	RunHash  string         `json:"run_hash,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	PrevHash *string        `json:"prev_hash"`
	Hash     string         `json:"hash"`
}

// RotationMetrics accumulate over the process lifetime.
type RotationMetrics struct {
	RotationCount         int   `json:"rotation_count"`
	RotatedOriginalBytes  int64 `json:"rotated_original_bytes"`
	RotatedCompressedBytes int64 `json:"rotated_compressed_bytes"`
}

// Log is the audit appender. Appends are serialized; the chain's previous
// hash is read from the last line before each write.
type Log struct {
	dir         string
	rotateBytes int64
	log         zerolog.Logger

	mu      sync.Mutex
	metrics RotationMetrics
	now     func() time.Time
}

// New creates an audit log writing under dir. rotateBytes <= 0 selects the
// default threshold.
func New(dir string, rotateBytes int64, log zerolog.Logger) *Log {
	if rotateBytes <= 0 {
		rotateBytes = DefaultRotateBytes
	}
	return &Log{
		dir:         dir,
		rotateBytes: rotateBytes,
		log:         log.With().Str("service", "audit").Logger(),
		now:         time.Now,
	}
}

// Path returns the live log path.
func (l *Log) Path() string { return filepath.Join(l.dir, FileName) }

// Write appends an audit event with hash-chain integrity metadata. Audit
// writes are best-effort: failures are logged, never propagated.
func (l *Log) Write(event, runHash string, details map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		l.log.Warn().Err(err).Msg("Audit directory unavailable")
		return
	}
	prev := l.lastHash()
	rec := Record{
		Ts:       l.now().UTC().Format(time.RFC3339Nano),
		Event:    event,
		RunHash:  runHash,
		Details:  details,
		PrevHash: prev,
	}
	rec.Hash = HashRecord(&rec)

	line, err := json.Marshal(canonicalRecordMap(&rec, true))
	if err != nil {
		l.log.Warn().Err(err).Msg("Audit record encode failed")
		return
	}
	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.log.Warn().Err(err).Msg("Audit append failed")
		return
	}
	_, werr := f.Write(append(line, '\n'))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		l.log.Warn().AnErr("write", werr).AnErr("close", cerr).Msg("Audit append failed")
		return
	}
	l.rotateIfNeeded()
}

// HashRecord computes the canonical hash over the record without its hash
// field.
func HashRecord(rec *Record) string {
	return canonical.MustHash(canonicalRecordMap(rec, false))
}

// canonicalRecordMap renders the record for hashing (withHash=false) or for
// the on-disk line (withHash=true). The serialized key set matches the hash
// input exactly, plus the trailing hash.
func canonicalRecordMap(rec *Record, withHash bool) map[string]any {
	m := map[string]any{
		"ts":    rec.Ts,
		"event": rec.Event,
	}
	if rec.RunHash != "" {
		m["run_hash"] = rec.RunHash
	}
	if len(rec.Details) > 0 {
		m["details"] = rec.Details
	}
	if rec.PrevHash != nil {
		m["prev_hash"] = *rec.PrevHash
	} else {
		m["prev_hash"] = nil
	}
	if withHash {
		m["hash"] = rec.Hash
	}
	return m
}

// lastHash reads the previous record's hash from the live log.
func (l *Log) lastHash() *string {
	f, err := os.Open(l.Path())
	if err != nil {
		return nil
	}
	defer f.Close()
	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	if last == "" {
		return nil
	}
	var rec struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal([]byte(last), &rec); err != nil || rec.Hash == "" {
		return nil
	}
	return &rec.Hash
}

// rotateIfNeeded compresses the live log into audit.log.<unix_ts>.gz when it
// exceeds the threshold and writes the integrity snapshot anchoring the last
// hash. The live log is not truncated until the snapshot's rotated file is
// durable.
func (l *Log) rotateIfNeeded() {
	st, err := os.Stat(l.Path())
	if err != nil || st.Size() < l.rotateBytes {
		return
	}
	raw, err := os.ReadFile(l.Path())
	if err != nil {
		return
	}
	lastHash := l.lastHash()

	rotated := filepath.Join(l.dir, fmt.Sprintf("%s%d.gz", RotatedPrefix, l.now().Unix()))
	f, err := os.Create(rotated)
	if err != nil {
		return
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write(raw); err != nil {
		gz.Close()
		f.Close()
		_ = os.Remove(rotated)
		return
	}
	if err := gz.Close(); err != nil {
		f.Close()
		_ = os.Remove(rotated)
		return
	}
	if err := f.Close(); err != nil {
		return
	}
	compressed, _ := os.Stat(rotated)

	snap := map[string]any{
		"rotated_at":      l.now().UTC().Format(time.RFC3339Nano),
		"last_hash":       deref(lastHash),
		"rotated_file":    filepath.Base(rotated),
		"compressed":      true,
		"threshold_bytes": l.rotateBytes,
	}
	snapData, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(l.dir, IntegritySnapshot), snapData, 0o644); err != nil {
		return
	}
	if err := os.Remove(l.Path()); err != nil {
		l.log.Warn().Err(err).Msg("Audit truncation after rotation failed")
		return
	}
	l.metrics.RotationCount++
	l.metrics.RotatedOriginalBytes += int64(len(raw))
	if compressed != nil {
		l.metrics.RotatedCompressedBytes += compressed.Size()
	}
	l.log.Info().Str("rotated", filepath.Base(rotated)).Msg("Audit log rotated")
}

// Metrics returns a copy of the rotation metrics.
func (l *Log) Metrics() RotationMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metrics
}

// Verify replays the live log, checking every record's hash and chain
// linkage. It returns the number of valid records.
func Verify(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	var prev *string
	count := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return count, fmt.Errorf("line %d: %w", count+1, err)
		}
		if HashRecord(&rec) != rec.Hash {
			return count, fmt.Errorf("line %d: hash mismatch", count+1)
		}
		if (prev == nil) != (rec.PrevHash == nil) || (prev != nil && *prev != *rec.PrevHash) {
			return count, fmt.Errorf("line %d: chain broken", count+1)
		}
		h := rec.Hash
		prev = &h
		count++
	}
	return count, scanner.Err()
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
