package ports

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ruteri/eloc-provisioning/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

type staticDiscoverer struct {
	ports []interfaces.Port
	err   error
	calls int
}

func (d *staticDiscoverer) Ports(ctx context.Context) ([]interfaces.Port, error) {
	d.calls++
	return d.ports, d.err
}

var twoPorts = []interfaces.Port{
	{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10c4", PID: "ea60", Product: "CP2102"},
	{Name: "/dev/ttyUSB1", IsUSB: true, VID: "1a86", PID: "7523"},
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		ports    []interfaces.Port
		prompt   Prompt
		want     string
		wantErr  error
	}{
		{
			name:     "explicit port skips discovery",
			explicit: "COM6",
			ports:    twoPorts,
			want:     "COM6",
		},
		{
			name:    "no ports",
			wantErr: interfaces.ErrNoPorts,
		},
		{
			name:  "single port",
			ports: twoPorts[:1],
			want:  "/dev/ttyUSB0",
		},
		{
			name:    "several ports without terminal",
			ports:   twoPorts,
			prompt:  Prompt{In: strings.NewReader("1\n"), Out: io.Discard},
			wantErr: interfaces.ErrPortSelectionRequired,
		},
		{
			name:   "several ports by number",
			ports:  twoPorts,
			prompt: Prompt{In: strings.NewReader("2\n"), Out: io.Discard, Interactive: true},
			want:   "/dev/ttyUSB1",
		},
		{
			name:   "several ports by name after a wrong answer",
			ports:  twoPorts,
			prompt: Prompt{In: strings.NewReader("7\n/dev/ttyUSB0\n"), Out: io.Discard, Interactive: true},
			want:   "/dev/ttyUSB0",
		},
		{
			name:    "operator gives up",
			ports:   twoPorts,
			prompt:  Prompt{In: strings.NewReader("x\ny\nz\n1\n"), Out: io.Discard, Interactive: true},
			wantErr: interfaces.ErrPortSelectionRequired,
		},
		{
			name:    "input closed",
			ports:   twoPorts,
			prompt:  Prompt{In: strings.NewReader(""), Out: io.Discard, Interactive: true},
			wantErr: interfaces.ErrPortSelectionRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &staticDiscoverer{ports: tt.ports}

			got, err := Select(context.Background(), tt.explicit, d, tt.prompt)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.explicit != "" {
				assert.Zero(t, d.calls)
			}
		})
	}
}

func TestSelect_PromptListsPorts(t *testing.T) {
	var out bytes.Buffer
	prompt := Prompt{In: strings.NewReader("1\n"), Out: &out, Interactive: true}

	_, err := Select(context.Background(), "", &staticDiscoverer{ports: twoPorts}, prompt)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[1] /dev/ttyUSB0 (USB 10c4:ea60 CP2102)")
	assert.Contains(t, out.String(), "[2] /dev/ttyUSB1 (USB 1a86:7523)")
}

func TestSelect_CancelWhileWaitingForOperator(t *testing.T) {
	in, w := io.Pipe()
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := Select(ctx, "", &staticDiscoverer{ports: twoPorts}, Prompt{In: in, Out: io.Discard, Interactive: true})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSelect_DiscoveryError(t *testing.T) {
	boom := errors.New("enumeration failed")
	_, err := Select(context.Background(), "", &staticDiscoverer{err: boom}, Prompt{})
	assert.ErrorIs(t, err, boom)
}

func TestSerialDiscoverer_Ports(t *testing.T) {
	d := NewSerialDiscoverer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.list = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyS0"},
			nil,
			{Name: "/dev/ttyUSB1", IsUSB: true, VID: "1a86", PID: "7523"},
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10c4", PID: "ea60", SerialNumber: "0001"},
		}, nil
	}

	ports, err := d.Ports(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 3)
	assert.Equal(t, "/dev/ttyUSB0", ports[0].Name)
	assert.Equal(t, "0001", ports[0].SerialNumber)
	assert.Equal(t, "/dev/ttyUSB1", ports[1].Name)
	assert.Equal(t, "/dev/ttyS0", ports[2].Name)
}

func TestSerialDiscoverer_Error(t *testing.T) {
	d := NewSerialDiscoverer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.list = func() ([]*enumerator.PortDetails, error) {
		return nil, errors.New("no sysfs")
	}

	_, err := d.Ports(context.Background())
	assert.ErrorContains(t, err, "no sysfs")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "COM1", Describe(interfaces.Port{Name: "COM1"}))
	assert.Equal(t, "COM6 (USB 10c4:ea60 CP2102 serial 42)",
		Describe(interfaces.Port{Name: "COM6", IsUSB: true, VID: "10c4", PID: "ea60", Product: "CP2102", SerialNumber: "42"}))
}
