package provisioning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/eloc-provisioning/interfaces"
	"go.uber.org/atomic"
)

// StationConfig describes one factory run: where the images live and how they are
// written to the device.
type StationConfig struct {
	Environment    string
	FirmwareImage  string
	FirmwareOffset uint64
	Baud           int

	RecordPath string
	NVSImage   string
	NVSOffset  uint64
	NVSSize    uint64

	// OperatorPause is waited between the firmware and NVS flashes so the operator
	// can put the board back into download mode.
	OperatorPause time.Duration

	SkipBuild bool
	SkipFlash bool
}

// Station runs the complete factory flow for one device: provisioning transaction,
// NVS image, firmware build, firmware flash, operator pause and NVS flash.
type Station struct {
	svc     *Service
	builder interfaces.Builder
	nvs     interfaces.ImageGenerator
	flasher interfaces.Flasher
	cfg     StationConfig
	log     *slog.Logger

	interrupted *atomic.Bool
	// Notice receives operator instructions during the pause. Nil discards them.
	Notice func(msg string)
}

// NewStation wires the collaborators of a factory run. interrupted is polled at
// every step boundary; a nil flag is never set.
func NewStation(svc *Service, builder interfaces.Builder, nvs interfaces.ImageGenerator, flasher interfaces.Flasher, cfg StationConfig, interrupted *atomic.Bool, log *slog.Logger) *Station {
	if interrupted == nil {
		interrupted = atomic.NewBool(false)
	}
	return &Station{
		svc:         svc,
		builder:     builder,
		nvs:         nvs,
		flasher:     flasher,
		cfg:         cfg,
		log:         log,
		interrupted: interrupted,
	}
}

// Run provisions and flashes one device through port. The returned entry is set
// whenever the transaction committed, even if a later step failed, so the caller
// can report which serial was consumed.
func (s *Station) Run(ctx context.Context, port string) (*interfaces.AuditEntry, error) {
	// The transaction itself is never cancelled halfway
	entry, err := s.svc.ProvisionOnce(context.WithoutCancel(ctx), time.Now())
	if err != nil {
		return entry, err
	}

	steps := []struct {
		name string
		skip bool
		run  func(context.Context) error
	}{
		{"nvs-image", false, func(ctx context.Context) error {
			return s.nvs.Generate(ctx, s.cfg.RecordPath, s.cfg.NVSImage, s.cfg.NVSSize)
		}},
		{"build", s.cfg.SkipBuild, func(ctx context.Context) error {
			return s.builder.Build(ctx, s.cfg.Environment)
		}},
		{"flash-firmware", s.cfg.SkipFlash, func(ctx context.Context) error {
			return s.flasher.Flash(ctx, interfaces.FlashRequest{
				Image:  s.cfg.FirmwareImage,
				Offset: s.cfg.FirmwareOffset,
				Port:   port,
				Baud:   s.cfg.Baud,
			})
		}},
		{"operator-pause", s.cfg.SkipFlash, s.pause},
		{"flash-nvs", s.cfg.SkipFlash, func(ctx context.Context) error {
			return s.flasher.Flash(ctx, interfaces.FlashRequest{
				Image:  s.cfg.NVSImage,
				Offset: s.cfg.NVSOffset,
				Port:   port,
			})
		}},
	}

	for _, step := range steps {
		if step.skip {
			s.log.Info("Skipping step", slog.String("step", step.name))
			continue
		}
		if s.interrupted.Load() {
			return entry, fmt.Errorf("%w before %s, serial %s already committed", interfaces.ErrInterrupted, step.name, entry.Serial)
		}

		s.log.Debug("Running step", slog.String("step", step.name), slog.String("serial", entry.Serial))
		if err := step.run(ctx); err != nil {
			return entry, fmt.Errorf("%s failed for serial %s: %w", step.name, entry.Serial, err)
		}
	}

	s.log.Info("Device provisioned",
		slog.String("serial", entry.Serial),
		slog.String("hw_gen", entry.HWGen),
		slog.String("hw_rev", entry.HWRev),
		slog.String("port", port))
	return entry, nil
}

func (s *Station) pause(ctx context.Context) error {
	if s.cfg.OperatorPause <= 0 {
		return nil
	}
	if s.Notice != nil {
		s.Notice(fmt.Sprintf("Put the ESP32 into upload mode, flashing NVS in %s", s.cfg.OperatorPause))
	}

	t := time.NewTimer(s.cfg.OperatorPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
