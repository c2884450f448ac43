package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/hrmon/monitor"
	"github.com/srg/hrmon/relay"
)

// relayCmd represents the relay command
var relayCmd = &cobra.Command{
	Use:   "relay <device-address>",
	Short: "Relay heart rate readings onto a PTY",
	Long: fmt.Sprintf(`Connects to a BLE heart rate sensor and relays decoded readings onto a
PTY (pseudoterminal), one text line per reading. Applications that expect
a serial port can read the stream from the slave side.

This is useful for:
- Feeding heart rate data to legacy serial software
- Recording a session with standard terminal tools (cat, tee)
- Testing consumers without hardware serial ports

Example:
  hrmon relay %s
  hrmon relay --symlink /tmp/hrm-sensor %s

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runRelay,
}

var (
	relayConnectTimeout time.Duration
	relayNoControlPoint bool
	relaySymlink        string
)

func init() {
	relayCmd.Flags().DurationVar(&relayConnectTimeout, "connect-timeout", 30*time.Second, "Connection timeout")
	relayCmd.Flags().BoolVar(&relayNoControlPoint, "no-control-point", false, "Skip the vendor start command after enabling notifications")
	relayCmd.Flags().StringVar(&relaySymlink, "symlink", "", "Create a symlink to the PTY device (e.g., /tmp/hrm-sensor)")
	relayCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
}

func runRelay(cmd *cobra.Command, args []string) error {
	// Configure logger based on --log-level and --verbose flags
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	deviceAddress := args[0]

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupts gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		logger.Info("Received interrupt signal, shutting down...")
		cancel()
	}()

	// Setup progress printer
	progress := NewProgressPrinter(fmt.Sprintf("Starting relay for %s", deviceAddress), "Connecting", "Running", "Failed")
	progress.Start()
	defer progress.Stop()

	// Relay callback - announce the PTY and keep the relay running
	relayCallback := func(r relay.Relay) (any, error) {
		progress.Stop()

		tty := r.GetTTYName()
		if link := r.GetTTYSymlink(); link != "" {
			fmt.Fprintf(os.Stderr, "Relaying readings to %s (symlink %s). Press Ctrl+C to stop...\n", tty, link)
		} else {
			fmt.Fprintf(os.Stderr, "Relaying readings to %s. Press Ctrl+C to stop...\n", tty)
		}

		// Wait for Ctrl+C or connection loss
		select {
		case <-ctx.Done():
			logger.Info("Relay shutting down...")
			return nil, nil
		case <-waitDisconnected(r.Monitor()):
			return nil, ErrConnectionLost
		}
	}

	// Run the relay with callback
	_, err = relay.RunDeviceRelay(
		ctx,
		&relay.Options{
			Address: deviceAddress,
			Monitor: &monitor.Options{
				ConnectTimeout:        relayConnectTimeout,
				DescriptorReadTimeout: -1,
				ControlPointKick:      cfg.ControlPointKick && !relayNoControlPoint,
			},
			Logger:         logger,
			TTYSymlinkPath: relaySymlink,
		},
		progress.Callback(),
		relayCallback,
	)

	return err
}

// waitDisconnected returns a channel that receives when the monitor reports
// a teardown. The relay's drainer owns the Events() channel, so this watches
// through a callback subscription instead.
func waitDisconnected(mon *monitor.Monitor) <-chan monitor.Event {
	ch := make(chan monitor.Event, 1)
	mon.Subscribe(func(ev monitor.Event) {
		if ev.Type == monitor.EventDisconnected {
			select {
			case ch <- ev:
			default:
			}
		}
	})
	return ch
}
