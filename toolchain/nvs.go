package toolchain

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/eloc-provisioning/interfaces"
)

// DefaultPython is the interpreter used for the ESP-IDF python tools.
const DefaultPython = "python"

// NVSGenerator implements interfaces.ImageGenerator with ESP-IDF's
// nvs_partition_gen.py.
type NVSGenerator struct {
	runner CommandRunner
	python string
	script string
	log    *slog.Logger
}

// NewNVSGenerator creates a generator running script with python. An empty python
// uses DefaultPython from PATH.
func NewNVSGenerator(runner CommandRunner, python, script string, log *slog.Logger) *NVSGenerator {
	if python == "" {
		python = DefaultPython
	}
	return &NVSGenerator{
		runner: runner,
		python: python,
		script: script,
		log:    log,
	}
}

// Generate converts the record at recordPath into a size-byte NVS partition image at
// imagePath, creating the image directory if needed.
func (g *NVSGenerator) Generate(ctx context.Context, recordPath, imagePath string, size uint64) error {
	if g.script == "" {
		return fmt.Errorf("%w: nvs_partition_gen.py location not configured", interfaces.ErrBuildFailed)
	}
	if size == 0 || size%0x1000 != 0 {
		return fmt.Errorf("%w: NVS size 0x%x is not a multiple of 4096", interfaces.ErrBuildFailed, size)
	}
	if err := os.MkdirAll(filepath.Dir(imagePath), 0755); err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrBuildFailed, err)
	}

	cmd := Command{
		Name: g.python,
		Args: []string{g.script, "generate", recordPath, imagePath, fmt.Sprintf("0x%x", size)},
	}

	g.log.Info("Generating NVS image",
		slog.String("record", recordPath),
		slog.String("image", imagePath),
		slog.String("size", fmt.Sprintf("0x%x", size)))
	if err := g.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("%w: nvs image: %w", interfaces.ErrBuildFailed, err)
	}
	return nil
}
