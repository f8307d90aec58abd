package writer

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"Go2NetStats/internal/config"
	"Go2NetStats/internal/export"
	"Go2NetStats/internal/factory"
	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/model"
)

const (
	snapshotFileName = "snapshot.gob"
	summaryFileName  = "summary.json"
	timestampLayout  = "2006-01-02_15-04-05"
)

func init() {
	factory.RegisterWriter("gob", func(def config.WriterDef) (model.Writer, error) {
		return NewGobWriter(def.Gob.RootPath), nil
	})
}

// SummaryData holds the metadata written next to a gob snapshot.
type SummaryData struct {
	Timestamp     string         `json:"timestamp"`
	SchemaVersion int            `json:"schema_version"`
	Partial       bool           `json:"partial"`
	PacketCount   uint64         `json:"packet_count"`
	ByteCount     uint64         `json:"byte_count"`
	HostCount     int            `json:"host_count"`
	ParseErrors   uint64         `json:"parse_errors"`
	Tables        map[string]int `json:"tables"`
}

// GobWriter writes snapshots to disk as <root>/<timestamp>/snapshot.gob
// together with a human readable summary.json.
type GobWriter struct {
	rootPath string
	create   func(path string) (io.WriteCloser, error)
}

// NewGobWriter creates a new gob file writer rooted at rootPath.
func NewGobWriter(rootPath string) *GobWriter {
	return &GobWriter{rootPath: rootPath, create: createFile}
}

func createFile(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

func (w *GobWriter) Name() string { return "gob" }

// Write serializes the snapshot into a new timestamped directory.
func (w *GobWriter) Write(_ context.Context, snapshot *model.Snapshot) error {
	ts := snapshot.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	snapshotDir := filepath.Join(w.rootPath, ts.Format(timestampLayout))
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	filePath := filepath.Join(snapshotDir, snapshotFileName)
	if err := w.writeFile(filePath, func(f io.Writer) error {
		return gob.NewEncoder(f).Encode(snapshot)
	}); err != nil {
		return fmt.Errorf("failed to write gob snapshot: %w", err)
	}

	summary := SummaryData{
		Timestamp:     ts.Format(time.RFC3339),
		SchemaVersion: snapshot.SchemaVersion,
		Partial:       snapshot.Partial,
		Tables:        make(map[string]int, len(snapshot.Tables)),
	}
	if s, ok := export.SummaryFromSnapshot(snapshot); ok {
		summary.PacketCount = s.PacketCount
		summary.ByteCount = s.ByteCount
		summary.HostCount = s.HostCount
		summary.ParseErrors = s.ParseErrors
	}
	for _, t := range snapshot.Tables {
		summary.Tables[t.Name] = len(t.Rows)
	}

	if err := w.writeFile(filepath.Join(snapshotDir, summaryFileName), func(f io.Writer) error {
		jsonEncoder := json.NewEncoder(f)
		jsonEncoder.SetIndent("", "  ")
		return jsonEncoder.Encode(summary)
	}); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	logging.WithComponent("gob-writer").Infof("Wrote snapshot with %d tables to '%s'", len(snapshot.Tables), snapshotDir)
	return nil
}

func (w *GobWriter) Close() error { return nil }

// writeFile creates path, fills it with encode and closes it. A failed close
// fails the write.
func (w *GobWriter) writeFile(path string, encode func(io.Writer) error) error {
	file, err := w.create(path)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", path, err)
	}
	if err := encode(file); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode '%s': %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close '%s': %w", path, err)
	}
	return nil
}

// ReadSnapshot loads a snapshot written by GobWriter. path may be the
// snapshot file itself, a snapshot directory, or the writer root, in which
// case the newest snapshot below it is loaded.
func ReadSnapshot(path string) (*model.Snapshot, error) {
	filePath, err := resolveSnapshotPath(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	var snapshot model.Snapshot
	if err := gob.NewDecoder(file).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot '%s': %w", filePath, err)
	}
	return &snapshot, nil
}

func resolveSnapshotPath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat snapshot path: %w", err)
	}
	if !info.IsDir() {
		return path, nil
	}

	direct := filepath.Join(path, snapshotFileName)
	if _, err := os.Stat(direct); err == nil {
		return direct, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("failed to list snapshot root: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(path, e.Name(), snapshotFileName)); err == nil {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("no snapshot found under '%s'", path)
	}
	// Directory names are timestamps, so the lexically greatest is the newest.
	sort.Strings(dirs)
	return filepath.Join(path, dirs[len(dirs)-1], snapshotFileName), nil
}
