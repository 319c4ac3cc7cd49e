package toolchain

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/ruteri/eloc-provisioning/interfaces"
)

// DefaultChip is the target passed to esptool --chip.
const DefaultChip = "esp32"

// EsptoolFlasher implements interfaces.Flasher with `python -m esptool write_flash`.
type EsptoolFlasher struct {
	runner CommandRunner
	python string
	chip   string
	log    *slog.Logger
}

// NewEsptoolFlasher creates a flasher. Empty python and chip select DefaultPython
// and DefaultChip.
func NewEsptoolFlasher(runner CommandRunner, python, chip string, log *slog.Logger) *EsptoolFlasher {
	if python == "" {
		python = DefaultPython
	}
	if chip == "" {
		chip = DefaultChip
	}
	return &EsptoolFlasher{
		runner: runner,
		python: python,
		chip:   chip,
		log:    log,
	}
}

// Flash writes req.Image at req.Offset of the device on req.Port. A zero Baud
// leaves esptool's default rate.
func (f *EsptoolFlasher) Flash(ctx context.Context, req interfaces.FlashRequest) error {
	if req.Port == "" {
		return fmt.Errorf("%w: no port given", interfaces.ErrFlashFailed)
	}
	fi, err := os.Stat(req.Image)
	if err != nil {
		return fmt.Errorf("%w: image: %w", interfaces.ErrFlashFailed, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: image %s is a directory", interfaces.ErrFlashFailed, req.Image)
	}

	f.log.Info("Flashing image",
		slog.String("image", req.Image),
		slog.String("offset", fmt.Sprintf("0x%x", req.Offset)),
		slog.String("port", req.Port),
		slog.Int("baud", req.Baud))

	if err := f.runner.Run(ctx, Command{Name: f.python, Args: f.args(req)}); err != nil {
		return fmt.Errorf("%w: %s at 0x%x: %w", interfaces.ErrFlashFailed, req.Image, req.Offset, err)
	}
	return nil
}

func (f *EsptoolFlasher) args(req interfaces.FlashRequest) []string {
	args := []string{"-m", "esptool", "--chip", f.chip, "--port", req.Port}
	if req.Baud > 0 {
		args = append(args, "--baud", strconv.Itoa(req.Baud))
	}
	return append(args, "write_flash", fmt.Sprintf("0x%x", req.Offset), req.Image)
}
