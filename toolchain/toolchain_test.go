package toolchain

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ruteri/eloc-provisioning/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingRunner captures commands and returns a canned error
type recordingRunner struct {
	commands []Command
	err      error
}

func (r *recordingRunner) Run(ctx context.Context, cmd Command) error {
	r.commands = append(r.commands, cmd)
	return r.err
}

func TestPlatformIOBuilder_Build(t *testing.T) {
	runner := &recordingRunner{}
	b := NewPlatformIOBuilder(runner, "", "/work/eloc", testLogger())

	require.NoError(t, b.Build(context.Background(), "esp32dev-ei-windows"))
	require.Len(t, runner.commands, 1)
	assert.Equal(t, Command{
		Name: "platformio",
		Args: []string{"run", "-e", "esp32dev-ei-windows"},
		Dir:  "/work/eloc",
	}, runner.commands[0])
}

func TestPlatformIOBuilder_BuildFailure(t *testing.T) {
	runner := &recordingRunner{err: &ExitError{Command: "platformio", Code: 1}}
	b := NewPlatformIOBuilder(runner, "pio", ".", testLogger())

	err := b.Build(context.Background(), "esp32dev")
	require.ErrorIs(t, err, interfaces.ErrBuildFailed)
	assert.Contains(t, err.Error(), "exited with status 1")

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
	assert.Equal(t, "pio", runner.commands[0].Name)
}

func TestFirmwarePath(t *testing.T) {
	assert.Equal(t, filepath.Join("proj", ".pio", "build", "esp32dev-ei-windows", "firmware.bin"),
		FirmwarePath("proj", "esp32dev-ei-windows"))
}

func TestNVSGenerator_Generate(t *testing.T) {
	runner := &recordingRunner{}
	g := NewNVSGenerator(runner, "/opt/idf/python", "/opt/idf/nvs_partition_gen.py", testLogger())
	image := filepath.Join(t.TempDir(), "build", "nvs.bin")

	require.NoError(t, g.Generate(context.Background(), "nvs.csv", image, 0x6000))
	require.Len(t, runner.commands, 1)
	assert.Equal(t, Command{
		Name: "/opt/idf/python",
		Args: []string{"/opt/idf/nvs_partition_gen.py", "generate", "nvs.csv", image, "0x6000"},
	}, runner.commands[0])

	fi, err := os.Stat(filepath.Dir(image))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestNVSGenerator_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		script string
		size   uint64
		runErr error
	}{
		{name: "no script", script: "", size: 0x6000},
		{name: "zero size", script: "gen.py", size: 0},
		{name: "unaligned size", script: "gen.py", size: 0x6001},
		{name: "tool failure", script: "gen.py", size: 0x3000, runErr: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &recordingRunner{err: tt.runErr}
			g := NewNVSGenerator(runner, "", tt.script, testLogger())

			err := g.Generate(context.Background(), "nvs.csv", filepath.Join(t.TempDir(), "nvs.bin"), tt.size)
			require.ErrorIs(t, err, interfaces.ErrBuildFailed)
			if tt.runErr == nil {
				assert.Empty(t, runner.commands)
			}
		})
	}
}

func TestEsptoolFlasher_Args(t *testing.T) {
	image := filepath.Join(t.TempDir(), "firmware.bin")
	require.NoError(t, os.WriteFile(image, []byte{0xe9}, 0644))

	tests := []struct {
		name string
		req  interfaces.FlashRequest
		want []string
	}{
		{
			name: "firmware with baud",
			req:  interfaces.FlashRequest{Image: image, Offset: 0x10000, Port: "COM6", Baud: 921600},
			want: []string{"-m", "esptool", "--chip", "esp32", "--port", "COM6", "--baud", "921600", "write_flash", "0x10000", image},
		},
		{
			name: "nvs default baud",
			req:  interfaces.FlashRequest{Image: image, Offset: 0x9000, Port: "/dev/ttyUSB0"},
			want: []string{"-m", "esptool", "--chip", "esp32", "--port", "/dev/ttyUSB0", "write_flash", "0x9000", image},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &recordingRunner{}
			f := NewEsptoolFlasher(runner, "", "", testLogger())

			require.NoError(t, f.Flash(context.Background(), tt.req))
			require.Len(t, runner.commands, 1)
			assert.Equal(t, "python", runner.commands[0].Name)
			assert.Equal(t, tt.want, runner.commands[0].Args)
		})
	}
}

func TestEsptoolFlasher_Failures(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "nvs.bin")
	require.NoError(t, os.WriteFile(image, []byte{0}, 0644))

	tests := []struct {
		name    string
		req     interfaces.FlashRequest
		runErr  error
		spawned bool
	}{
		{name: "missing image", req: interfaces.FlashRequest{Image: filepath.Join(dir, "missing.bin"), Port: "COM6"}},
		{name: "directory image", req: interfaces.FlashRequest{Image: dir, Port: "COM6"}},
		{name: "no port", req: interfaces.FlashRequest{Image: image}},
		{
			name:    "tool failure",
			req:     interfaces.FlashRequest{Image: image, Port: "COM6"},
			runErr:  &ExitError{Command: "python", Code: 2},
			spawned: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &recordingRunner{err: tt.runErr}
			f := NewEsptoolFlasher(runner, "", "", testLogger())

			err := f.Flash(context.Background(), tt.req)
			require.ErrorIs(t, err, interfaces.ErrFlashFailed)
			assert.Equal(t, tt.spawned, len(runner.commands) == 1)
		})
	}
}

func TestParsePartitionTable(t *testing.T) {
	const table = `# ESP-IDF Partition Table
# Name,   Type, SubType, Offset,  Size, Flags
nvs,      data, nvs,     0x9000,  0x6000,
phy_init, data, phy,     0xf000,  0x1000,
factory,  app,  factory, 0x10000, 1M,
storage,  data, fat,     ,        512K, readonly
`
	pt, err := ParsePartitionTable(strings.NewReader(table))
	require.NoError(t, err)
	require.Len(t, pt.Partitions, 4)

	nvs, err := pt.Lookup("nvs")
	require.NoError(t, err)
	assert.Equal(t, Partition{Name: "nvs", Type: "data", SubType: "nvs", Offset: 0x9000, Size: 0x6000}, nvs)

	factory, err := pt.Lookup("factory")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10000), factory.Offset)
	assert.Equal(t, uint64(1024*1024), factory.Size)

	storage, err := pt.Lookup("storage")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x110000), storage.Offset)
	assert.Equal(t, uint64(512*1024), storage.Size)
	assert.Equal(t, "readonly", storage.Flags)

	_, err = pt.Lookup("ota_0")
	assert.ErrorIs(t, err, interfaces.ErrPartitionNotFound)
}

func TestParsePartitionTable_AutoOffsets(t *testing.T) {
	pt, err := ParsePartitionTable(strings.NewReader("nvs,data,nvs,,0x5000\nfactory,app,factory,,0x100000\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0x9000), pt.Partitions[0].Offset)
	assert.Equal(t, uint64(0x10000), pt.Partitions[1].Offset)
}

func TestParsePartitionTable_Invalid(t *testing.T) {
	for name, content := range map[string]string{
		"short row":   "nvs,data,nvs,0x9000\n",
		"bad size":    "nvs,data,nvs,0x9000,lots\n",
		"bad offset":  "nvs,data,nvs,0xZZ,0x6000\n",
		"empty size":  "nvs,data,nvs,0x9000,\n",
		"bad quoting": "nvs,data,\"nvs,0x9000,0x6000\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePartitionTable(strings.NewReader(content))
			assert.ErrorContains(t, err, "invalid partition table")
		})
	}
}

func TestLoadPartitionTable_Missing(t *testing.T) {
	_, err := LoadPartitionTable(filepath.Join(t.TempDir(), "partitions.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExecRunner_StreamsOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	var out bytes.Buffer
	r := NewExecRunner(&out, testLogger())

	err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo one; echo two 1>&2"}})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "one\n")
	assert.Contains(t, out.String(), "two\n")
}

func TestExecRunner_ExitStatus(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	r := NewExecRunner(io.Discard, testLogger())
	err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "exit 3"}})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
}

func TestExecRunner_MissingTool(t *testing.T) {
	r := NewExecRunner(io.Discard, testLogger())
	err := r.Run(context.Background(), Command{Name: "definitely-not-installed-eloc-tool"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not start")
}
