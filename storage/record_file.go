package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/gofrs/flock"
	"github.com/ruteri/eloc-provisioning/interfaces"
)

// RecordHeader is the fixed column set of a provisioning record file.
var RecordHeader = []string{"key", "type", "encoding", "value"}

// FileRecordStore implements interfaces.RecordStore over an ESP-IDF NVS partition
// CSV file (nvs.csv). The file is always rewritten as a whole.
type FileRecordStore struct {
	path     string
	lockPath string
	log      *slog.Logger
}

// NewFileRecordStore creates a record store backed by the CSV file at path.
// The file is not touched until LoadAll or SaveAll is called.
func NewFileRecordStore(path string, log *slog.Logger) *FileRecordStore {
	return &FileRecordStore{
		path:     path,
		lockPath: path + ".lock",
		log:      log,
	}
}

// Path returns the record file location.
func (s *FileRecordStore) Path() string {
	return s.path
}

// LoadAll reads and parses the whole record file.
// Returns ErrStoreNotFound if the file doesn't exist and ErrMalformedRecord if it
// cannot be parsed.
func (s *FileRecordStore) LoadAll(ctx context.Context) (*interfaces.Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrStoreNotFound, s.path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read record file %s: %w", s.path, err)
	}

	record, err := ParseRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}

	s.log.Debug("Loaded provisioning record",
		slog.String("path", s.path),
		slog.Int("fields", len(record.Fields)))

	return record, nil
}

// SaveAll serializes every field and atomically replaces the record file.
func (s *FileRecordStore) SaveAll(ctx context.Context, record *interfaces.Record) error {
	data, err := SerializeRecord(record)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	if err := writeFileAtomic(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write record file %s: %w", s.path, err)
	}

	s.log.Debug("Saved provisioning record",
		slog.String("path", s.path),
		slog.Int("fields", len(record.Fields)))

	return nil
}

// Lock takes an exclusive lock on <path>.lock without waiting.
// Returns ErrStoreLocked if another process holds it.
func (s *FileRecordStore) Lock(ctx context.Context) (func(), error) {
	// Don't leave a lock file next to a record that doesn't exist
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrStoreNotFound, s.path)
	}

	fl := flock.New(s.lockPath)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", s.lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrStoreLocked, s.lockPath)
	}

	s.log.Debug("Acquired record store lock", slog.String("lock", s.lockPath))

	return func() {
		if err := fl.Unlock(); err != nil {
			s.log.Warn("Failed to release record store lock",
				slog.String("lock", s.lockPath),
				"err", err)
		}
	}, nil
}

// ParseRecord parses record CSV data. The header must be exactly
// key,type,encoding,value and keys must be unique and non-empty. The record uses
// CRLF on save if any line of data ends in \r\n.
func ParseRecord(data []byte) (*interfaces.Record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(RecordHeader)

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file, missing header", interfaces.ErrMalformedRecord)
	} else if err != nil {
		return nil, fmt.Errorf("%w: header: %v", interfaces.ErrMalformedRecord, err)
	}
	if !slices.Equal(header, RecordHeader) {
		return nil, fmt.Errorf("%w: header %q, expected %q", interfaces.ErrMalformedRecord, header, RecordHeader)
	}

	record := &interfaces.Record{
		CRLF: bytes.Contains(data, []byte("\r\n")),
	}
	seen := make(map[string]int)

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedRecord, err)
		}

		line, _ := r.FieldPos(0)
		key := row[0]
		if key == "" {
			return nil, fmt.Errorf("%w: line %d: empty key", interfaces.ErrMalformedRecord, line)
		}
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: line %d: duplicate key %q (first on line %d)", interfaces.ErrMalformedRecord, line, key, prev)
		}
		seen[key] = line

		record.Fields = append(record.Fields, interfaces.Field{
			Key:      key,
			Type:     row[1],
			Encoding: row[2],
			Value:    row[3],
		})
	}

	return record, nil
}

// SerializeRecord renders a record as CSV with the fixed header. Output is
// normalized: fields are quoted only when needed, every line including the last
// ends in the record's terminator. A parsed file in that form serializes to the
// same bytes.
func SerializeRecord(record *interfaces.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = record.CRLF

	if err := w.Write(RecordHeader); err != nil {
		return nil, err
	}
	for _, f := range record.Fields {
		if err := w.Write([]string{f.Key, f.Type, f.Encoding, f.Value}); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFileAtomic replaces path with data through a synced temporary file in the
// same directory. An existing file keeps its permissions.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if fi, err := os.Stat(path); err == nil {
		perm = fi.Mode().Perm()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(fmt.Errorf("failed to write temporary file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("failed to sync temporary file: %w", err))
	}
	if err := tmp.Chmod(perm); err != nil {
		return cleanup(fmt.Errorf("failed to set file mode: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace file: %w", err)
	}

	// Persist the rename. Directories cannot be synced on every platform.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}

	return nil
}
