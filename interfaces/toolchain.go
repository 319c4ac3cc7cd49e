package interfaces

import (
	"context"
	"errors"
)

var (
	// ErrBuildFailed is returned when the build tool or NVS image generator fails.
	ErrBuildFailed = errors.New("build failed")

	// ErrFlashFailed is returned when the flashing tool fails or its image is missing.
	ErrFlashFailed = errors.New("flash failed")

	// ErrNoPorts is returned when no serial connection is available.
	ErrNoPorts = errors.New("no serial ports found")

	// ErrPortSelectionRequired is returned when several ports exist and the operator
	// cannot be prompted to choose one.
	ErrPortSelectionRequired = errors.New("several serial ports found, select one explicitly")

	// ErrPartitionNotFound is returned when the partition table has no entry of the requested name.
	ErrPartitionNotFound = errors.New("partition not found")
)

// Builder builds a firmware environment from the current project state, including
// the provisioning record.
type Builder interface {
	Build(ctx context.Context, environment string) error
}

// ImageGenerator converts a provisioning record file into a binary NVS partition image.
type ImageGenerator interface {
	Generate(ctx context.Context, recordPath, imagePath string, size uint64) error
}

// FlashRequest describes one image write to device flash.
type FlashRequest struct {
	Image  string
	Offset uint64
	Port   string
	Baud   int
}

// Flasher writes a binary image to device flash over a serial connection.
type Flasher interface {
	Flash(ctx context.Context, req FlashRequest) error
}

// Port is one available serial connection.
type Port struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// PortDiscoverer lists the currently available device connections.
type PortDiscoverer interface {
	Ports(ctx context.Context) ([]Port, error)
}
