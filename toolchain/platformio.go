package toolchain

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ruteri/eloc-provisioning/interfaces"
)

// DefaultPlatformIO is the PlatformIO CLI executable name.
const DefaultPlatformIO = "platformio"

// PlatformIOBuilder implements interfaces.Builder with `platformio run`.
type PlatformIOBuilder struct {
	runner     CommandRunner
	executable string
	projectDir string
	log        *slog.Logger
}

// NewPlatformIOBuilder creates a builder for the PlatformIO project in projectDir.
// An empty executable uses DefaultPlatformIO from PATH.
func NewPlatformIOBuilder(runner CommandRunner, executable, projectDir string, log *slog.Logger) *PlatformIOBuilder {
	if executable == "" {
		executable = DefaultPlatformIO
	}
	return &PlatformIOBuilder{
		runner:     runner,
		executable: executable,
		projectDir: projectDir,
		log:        log,
	}
}

// Build compiles environment. The project reads the current record file, so Build
// must run after the provisioning transaction committed.
func (b *PlatformIOBuilder) Build(ctx context.Context, environment string) error {
	cmd := Command{
		Name: b.executable,
		Args: []string{"run", "-e", environment},
		Dir:  b.projectDir,
	}

	b.log.Info("Building firmware", slog.String("env", environment), slog.String("project", b.projectDir))
	if err := b.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("%w: environment %s: %w", interfaces.ErrBuildFailed, environment, err)
	}
	return nil
}

// FirmwarePath is where PlatformIO writes the application image of environment.
func FirmwarePath(projectDir, environment string) string {
	return filepath.Join(projectDir, ".pio", "build", environment, "firmware.bin")
}
