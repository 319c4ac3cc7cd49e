package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/eloc-provisioning/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *CSVLog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provisioning_log.csv")
	return NewCSVLog(path, slog.New(slog.NewTextHandler(io.Discard, nil)), WithLocation(time.UTC))
}

func testEntry(i int) interfaces.AuditEntry {
	return interfaces.AuditEntry{
		Serial:    fmt.Sprintf("%05d", i),
		DevEUI:    "70B3D57ED0000000",
		AppKey:    "000102030405060708090A0B0C0D0E0F",
		NwkKey:    "F0E0D0C0B0A090807060504030201000",
		HWGen:     "3",
		HWRev:     "1",
		Timestamp: time.Date(2024, 3, 1, 12, 0, i, 0, time.UTC),
	}
}

func TestCSVLog_AppendCreatesHeaderOnce(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, testEntry(1)))
	require.NoError(t, l.Append(ctx, testEntry(2)))

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, `Serial,devEUI,appKey,nwkKey,hw_gen,hw_rev,timestamp
00001,70B3D57ED0000000,000102030405060708090A0B0C0D0E0F,F0E0D0C0B0A090807060504030201000,3,1,2024-03-01 12:00:01
00002,70B3D57ED0000000,000102030405060708090A0B0C0D0E0F,F0E0D0C0B0A090807060504030201000,3,1,2024-03-01 12:00:02
`, string(data))

	fi, err := os.Stat(l.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())
}

func TestCSVLog_AppendIsMonotonic(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	const n = 25
	for i := 1; i <= n; i++ {
		require.NoError(t, l.Append(ctx, testEntry(i)))

		entries, err := l.ReadAll(ctx)
		require.NoError(t, err)
		require.Len(t, entries, i)
	}

	entries, err := l.ReadAll(ctx)
	require.NoError(t, err)
	for i, e := range entries {
		assert.Equal(t, testEntry(i+1), e)
	}
}

func TestCSVLog_AppendKeepsExistingRows(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	existing := "Serial,devEUI,appKey,nwkKey,hw_gen,hw_rev,timestamp\n00041,A,B,C,,,2023-01-01 00:00:00\n"
	require.NoError(t, os.WriteFile(l.Path(), []byte(existing), 0600))

	require.NoError(t, l.Append(ctx, testEntry(42)))

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, existing, string(data[:len(existing)]))

	entries, err := l.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "00041", entries[0].Serial)
	assert.Equal(t, "00042", entries[1].Serial)
}

func TestCSVLog_AppendTerminatesUnfinishedLastRow(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	// Saved by an editor that drops the final newline
	existing := "Serial,devEUI,appKey,nwkKey,hw_gen,hw_rev,timestamp\n00001,A,B,C,B,2,2024-01-01 00:00:00"
	require.NoError(t, os.WriteFile(l.Path(), []byte(existing), 0600))

	require.NoError(t, l.Append(ctx, testEntry(2)))

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, existing+"\n", string(data[:len(existing)+1]))

	entries, err := l.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "00001", entries[0].Serial)
	assert.Equal(t, "2024-01-01 00:00:00", entries[0].Timestamp.Format(TimestampLayout))
	assert.Equal(t, testEntry(2), entries[1])
}

func TestCSVLog_AppendRejectsForeignHeader(t *testing.T) {
	tests := []struct {
		name     string
		existing string
	}{
		{"other columns", "Serial,hardware_version,revision\n00001,3,1\n"},
		{"header without terminator", "Serial,devEUI,appKey"},
		{"unparsable header", "\"Serial,devEUI\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLog(t)
			require.NoError(t, os.WriteFile(l.Path(), []byte(tt.existing), 0600))

			err := l.Append(context.Background(), testEntry(2))
			assert.ErrorIs(t, err, interfaces.ErrMalformedAudit)

			data, err := os.ReadFile(l.Path())
			require.NoError(t, err)
			assert.Equal(t, tt.existing, string(data), "log must be left untouched")
		})
	}
}

func TestCSVLog_AppendWritesHeaderToEmptyFile(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, os.WriteFile(l.Path(), nil, 0600))

	require.NoError(t, l.Append(context.Background(), testEntry(1)))

	entries, err := l.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCSVLog_ReadAllMissing(t *testing.T) {
	l := newTestLog(t)

	entries, err := l.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCSVLog_ReadAllMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "wrong header",
			content: "serial,devEUI,appKey,nwkKey,hw_gen,hw_rev,timestamp\n",
		},
		{
			name:    "short row",
			content: "Serial,devEUI,appKey,nwkKey,hw_gen,hw_rev,timestamp\n00001,A,B,C\n",
		},
		{
			name:    "bad timestamp",
			content: "Serial,devEUI,appKey,nwkKey,hw_gen,hw_rev,timestamp\n00001,A,B,C,,,yesterday\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLog(t)
			require.NoError(t, os.WriteFile(l.Path(), []byte(tt.content), 0600))

			_, err := l.ReadAll(context.Background())
			assert.ErrorIs(t, err, interfaces.ErrMalformedAudit)
		})
	}
}

func TestCSVLog_AppendFailsOnMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "log.csv")
	l := NewCSVLog(path, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := l.Append(context.Background(), testEntry(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}
