package audit

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
	"slices"
	"time"

	"github.com/ruteri/eloc-provisioning/interfaces"
)

// Header is the fixed column set of the audit log.
var Header = []string{"Serial", "devEUI", "appKey", "nwkKey", "hw_gen", "hw_rev", "timestamp"}

// TimestampLayout is the second-precision event time format of audit rows.
const TimestampLayout = "2006-01-02 15:04:05"

// CSVLog implements interfaces.AuditLog as an append-only CSV file.
type CSVLog struct {
	path     string
	location *time.Location
	log      *slog.Logger
}

// Option configures a CSVLog.
type Option func(*CSVLog)

// WithLocation sets the time zone timestamps are written and read in.
// Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(l *CSVLog) {
		l.location = loc
	}
}

// NewCSVLog creates an audit log backed by the CSV file at path. The file is
// created on the first Append.
func NewCSVLog(path string, log *slog.Logger, opts ...Option) *CSVLog {
	l := &CSVLog{
		path:     path,
		location: time.Local,
		log:      log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the audit file location.
func (l *CSVLog) Path() string {
	return l.path
}

// Append writes entry as one row at the end of the log. The header is written
// first if the file does not exist yet or is empty. An existing log must carry
// the audit header, else ErrMalformedAudit; a log whose last line lost its
// terminator gets one before the row. The row is synced to disk before Append
// returns.
func (l *CSVLog) Append(ctx context.Context, entry interfaces.AuditEntry) error {
	// Rows are only ever added through O_APPEND, prior rows are never rewritten.
	// 0600: rows carry join keys.
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log %s: %w", l.path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat audit log %s: %w", l.path, err)
	}

	terminated := true
	if fi.Size() > 0 {
		if terminated, err = l.checkTail(f, fi.Size()); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	if !terminated {
		buf.WriteByte('\n')
	}
	w := csv.NewWriter(&buf)
	if fi.Size() == 0 {
		w.Write(Header)
	}
	w.Write(l.Row(entry))
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}

	// Single write so a row is never split between two appends
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append to audit log %s: %w", l.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log %s: %w", l.path, err)
	}

	l.log.Debug("Appended audit entry",
		slog.String("path", l.path),
		slog.String("serial", entry.Serial),
		slog.Bool("created", fi.Size() == 0))

	return nil
}

// checkTail verifies the header of a non-empty log and reports whether its last
// byte ends a line.
func (l *CSVLog) checkTail(f *os.File, size int64) (bool, error) {
	r := csv.NewReader(io.NewSectionReader(f, 0, size))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return false, fmt.Errorf("%s: %w: header: %v", l.path, interfaces.ErrMalformedAudit, err)
	}
	if !slices.Equal(header, Header) {
		return false, fmt.Errorf("%s: %w: header %q, expected %q", l.path, interfaces.ErrMalformedAudit, header, Header)
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return false, fmt.Errorf("failed to read audit log %s: %w", l.path, err)
	}
	if last[0] != '\n' {
		l.log.Warn("Audit log does not end with a newline, terminating the last row", slog.String("path", l.path))
		return false, nil
	}
	return true, nil
}

// ReadAll returns every entry of the log in append order. A log that does not
// exist yet has no entries.
func (l *CSVLog) ReadAll(ctx context.Context) ([]interfaces.AuditEntry, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read audit log %s: %w", l.path, err)
	}

	entries, err := l.parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.path, err)
	}
	return entries, nil
}

// Row renders entry as the audit columns, in the log time zone.
func (l *CSVLog) Row(e interfaces.AuditEntry) []string {
	return []string{
		e.Serial,
		e.DevEUI,
		e.AppKey,
		e.NwkKey,
		e.HWGen,
		e.HWRev,
		e.Timestamp.In(l.location).Format(TimestampLayout),
	}
}

func (l *CSVLog) parse(data []byte) ([]interfaces.AuditEntry, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(Header)

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: header: %v", interfaces.ErrMalformedAudit, err)
	}
	if !slices.Equal(header, Header) {
		return nil, fmt.Errorf("%w: header %q, expected %q", interfaces.ErrMalformedAudit, header, Header)
	}

	var entries []interfaces.AuditEntry
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedAudit, err)
		}

		ts, err := time.ParseInLocation(TimestampLayout, row[6], l.location)
		if err != nil {
			line, _ := r.FieldPos(6)
			return nil, fmt.Errorf("%w: line %d: timestamp: %v", interfaces.ErrMalformedAudit, line, err)
		}

		entries = append(entries, interfaces.AuditEntry{
			Serial:    row[0],
			DevEUI:    row[1],
			AppKey:    row[2],
			NwkKey:    row[3],
			HWGen:     row[4],
			HWRev:     row[5],
			Timestamp: ts,
		})
	}

	return entries, nil
}
