// Package relay bridges a heart rate monitoring session onto a
// pseudoterminal. Decoded readings are written to the PTY master as text
// lines so legacy serial-port tools can consume them from the slave side.
package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/ptyio"
	"github.com/srg/hrmon/monitor"
)

const (
	// DefaultPtyStdoutBufferSize is the default size, in bytes, of the ring buffer used for PTY stdout input.
	DefaultPtyStdoutBufferSize = 1000

	// DefaultPtyStdinBufferSize is the default size, in bytes, of the ring buffer used for PTY stdin input.
	DefaultPtyStdinBufferSize = 1000
)

// Relay represents a running BLE-PTY relay with access to the monitor and PTY
type Relay interface {
	Monitor() *monitor.Monitor
	GetTTYName() string                 // TTY device name for display
	GetTTYSymlink() string              // Symlink path (empty if not created)
	GetPTY() io.ReadWriter              // PTY I/O as a standard Go interface
	GetPTYIO() ptyio.PTY                // PTY I/O interface (never nil)
	SetPTYReadCallback(cb func([]byte)) // Set callback for PTY data arrival (nil to unregister)
}

// Options contains all the configuration for running a relay
type Options struct {
	Address             string           // BLE device address
	Monitor             *monitor.Options // monitor configuration (nil = defaults)
	Logger              *logrus.Logger   // Logger instance
	PtyStdinBufferSize  int              // PTY stdin ring buffer size in bytes (0 = use default)
	PtyStdoutBufferSize int              // PTY stdout ring buffer size in bytes (0 = use default)
	TTYSymlinkPath      string           // Optional tty symlink path for PTY slave (e.g., /tmp/hrm-sensor)
}

// ProgressCallback is called when the relay phase changes
type ProgressCallback func(phase string)

// Callback is executed with the running relay (mirrors inspector.InspectCallback)
type Callback[R any] func(Relay) (R, error)

// relayImpl implements the Relay interface
type relayImpl struct {
	mon            *monitor.Monitor
	ttySymlinkPath string    // TTY symlink (empty if not created)
	pty            ptyio.PTY // PTY I/O interface for async monitoring
}

func (r *relayImpl) Monitor() *monitor.Monitor {
	return r.mon
}

func (r *relayImpl) GetTTYName() string {
	if r.pty != nil {
		return r.pty.TTYName()
	}
	return ""
}

func (r *relayImpl) GetTTYSymlink() string {
	return r.ttySymlinkPath
}

func (r *relayImpl) GetPTY() io.ReadWriter {
	return r.pty
}

func (r *relayImpl) GetPTYIO() ptyio.PTY {
	return r.pty
}

func (r *relayImpl) SetPTYReadCallback(cb func([]byte)) {
	if r.pty != nil {
		r.pty.SetReadCallback(cb)
	}
}

// RunDeviceRelay connects to a BLE heart rate sensor, creates a PTY, wires
// decoded readings onto the PTY master, and executes the callback with the
// running relay. It follows the same pattern as inspector.InspectDevice for
// consistency; cleanup order is symlink, PTY, device disconnect.
func RunDeviceRelay[R any](
	ctx context.Context,
	opts *Options,
	progressCallback ProgressCallback,
	callback Callback[R],
) (R, error) {
	var zero R

	// Validate options
	if opts == nil {
		return zero, fmt.Errorf("failed to execute relay: options are required")
	}
	if opts.Address == "" {
		return zero, fmt.Errorf("failed to execute relay: device address is required")
	}

	// Set defaults
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}
	monOpts := opts.Monitor
	if monOpts == nil {
		monOpts = monitor.DefaultOptions()
	}
	if monOpts.ConnectTimeout == 0 {
		monOpts.ConnectTimeout = 30 * time.Second
	}

	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Setup cleanup on error
	var (
		mon            *monitor.Monitor
		drainer        *Drainer
		ttySymlinkPath string
		pty            ptyio.PTY
	)

	defer func() {
		// Remove tty symlink before closing PTY (cleanup order matters)
		if ttySymlinkPath != "" {
			if err := os.Remove(ttySymlinkPath); err != nil {
				logger.WithError(err).WithField("ttySymlink", ttySymlinkPath).Warn("Failed to remove tty symlink")
			} else {
				logger.WithField("ttySymlink", ttySymlinkPath).Debug("Removed tty symlink")
			}
		}

		// Close PTY I/O strategy (stops background monitoring and closes master/slave)
		if pty != nil {
			_ = pty.Close()
		}

		if mon != nil {
			mon.Close()
		}
		if drainer != nil {
			drainer.Cancel()
			drainer.Wait()
		}
	}()

	// Report phase: Connecting
	progressCallback("Connecting")

	mon = monitor.NewMonitor(monOpts, logger)
	events := mon.Events()

	if !mon.ConnectToDevice(opts.Address) {
		progressCallback("Failed")
		return zero, fmt.Errorf("failed to issue connect request to device %s", opts.Address)
	}

	// The connect outcome arrives as the first connection event.
	if err := awaitConnected(relayCtx, events, opts.Address); err != nil {
		progressCallback("Failed")
		return zero, err
	}

	// Report phase: Connected
	progressCallback("Connected")

	// Report phase: Setting up PTY
	progressCallback("Setting up PTY")

	outputBufferSize := opts.PtyStdoutBufferSize
	if outputBufferSize == 0 {
		outputBufferSize = DefaultPtyStdoutBufferSize
	}
	inputBufferSize := opts.PtyStdinBufferSize
	if inputBufferSize == 0 {
		inputBufferSize = DefaultPtyStdinBufferSize
	}

	// Create PTY I/O strategy with background slave monitoring
	var err error
	pty, err = ptyio.NewPty(inputBufferSize, outputBufferSize, logger)
	if err != nil {
		return zero, err
	}

	logger.WithField("tty", pty.TTYName()).Info("Created PTY device")

	// Create symlink to PTY slave if requested
	if opts.TTYSymlinkPath != "" {
		if err := os.Symlink(pty.TTYName(), opts.TTYSymlinkPath); err != nil {
			return zero, fmt.Errorf("failed to create tty symlink %s -> %s: %w", opts.TTYSymlinkPath, pty.TTYName(), err)
		}
		ttySymlinkPath = opts.TTYSymlinkPath
		logger.WithFields(logrus.Fields{
			"ttySymlink": ttySymlinkPath,
			"target":     pty.TTYName(),
		}).Info("Created PTY symlink")
	}

	// Stream decoded readings onto the PTY master
	drainer = NewDrainer(relayCtx, events, logger, pty)

	// Report phase: Running
	progressCallback("Running")

	rly := &relayImpl{
		mon:            mon,
		ttySymlinkPath: ttySymlinkPath,
		pty:            pty,
	}

	// Execute callback with the relay
	return callback(rly)
}

// awaitConnected consumes connection events until the link is up. A
// disconnected event before a connected one means the dial failed.
func awaitConnected(ctx context.Context, events <-chan monitor.Event, address string) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("monitor closed while connecting to device %s", address)
			}
			switch ev.Type {
			case monitor.EventConnected:
				return nil
			case monitor.EventDisconnected:
				return fmt.Errorf("failed to connect to device %s", address)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
