package ports

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ruteri/eloc-provisioning/interfaces"
	"go.bug.st/serial/enumerator"
)

// SerialDiscoverer implements interfaces.PortDiscoverer over the operating system's
// serial port list.
type SerialDiscoverer struct {
	list func() ([]*enumerator.PortDetails, error)
	log  *slog.Logger
}

// NewSerialDiscoverer creates a discoverer backed by go.bug.st/serial/enumerator.
func NewSerialDiscoverer(log *slog.Logger) *SerialDiscoverer {
	return &SerialDiscoverer{
		list: enumerator.GetDetailedPortsList,
		log:  log,
	}
}

// Ports lists serial ports, USB adapters first, then by name.
func (d *SerialDiscoverer) Ports(ctx context.Context) ([]interfaces.Port, error) {
	details, err := d.list()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	ports := make([]interfaces.Port, 0, len(details))
	for _, p := range details {
		if p == nil || p.Name == "" {
			continue
		}
		ports = append(ports, interfaces.Port{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}

	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].IsUSB != ports[j].IsUSB {
			return ports[i].IsUSB
		}
		return ports[i].Name < ports[j].Name
	})

	d.log.Debug("Discovered serial ports", slog.Int("count", len(ports)))
	return ports, nil
}

// Describe renders a port for operator listings.
func Describe(p interfaces.Port) string {
	if !p.IsUSB {
		return p.Name
	}
	desc := fmt.Sprintf("%s (USB %s:%s", p.Name, p.VID, p.PID)
	if p.Product != "" {
		desc += " " + p.Product
	}
	if p.SerialNumber != "" {
		desc += " serial " + p.SerialNumber
	}
	return desc + ")"
}
