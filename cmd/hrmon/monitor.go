package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/hrmon/monitor"
	"github.com/srg/hrmon/profile"
	"github.com/srg/hrmon/session"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <device-address>",
	Short: "Stream heart rate readings from a sensor",
	Long: fmt.Sprintf(`Connects to a BLE heart rate sensor, subscribes to Heart Rate Measurement
notifications, and streams decoded readings to stdout, one per line.

Readings are colored by heart rate zone (relative to --max-heart-rate)
unless --no-color is given. With --summary, a session digest (sample count,
min/avg/max, time in zones) is printed when the stream ends.

Examples:
  # Stream readings
  hrmon monitor %s

  # Stream with battery level up front and a session summary at the end
  hrmon monitor %s --battery --summary

  # Sensor that streams without the vendor start command
  hrmon monitor %s --no-control-point

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var (
	monitorConnectTimeout  time.Duration
	monitorNoControlPoint  bool
	monitorBattery         bool
	monitorSummary         bool
	monitorNoColor         bool
	monitorMaxHeartRate    int
	monitorSummaryCapacity uint32
)

func init() {
	monitorCmd.Flags().DurationVar(&monitorConnectTimeout, "connect-timeout", 30*time.Second, "Connection timeout")
	monitorCmd.Flags().BoolVar(&monitorNoControlPoint, "no-control-point", false, "Skip the vendor start command after enabling notifications")
	monitorCmd.Flags().BoolVar(&monitorBattery, "battery", false, "Read the battery level once streaming starts")
	monitorCmd.Flags().BoolVar(&monitorSummary, "summary", false, "Print a session summary when the stream ends")
	monitorCmd.Flags().BoolVar(&monitorNoColor, "no-color", false, "Disable heart rate zone coloring")
	monitorCmd.Flags().IntVar(&monitorMaxHeartRate, "max-heart-rate", 0, "Maximum heart rate for zone calculation (default from config)")
	monitorCmd.Flags().Uint32Var(&monitorSummaryCapacity, "summary-capacity", 16384, "Session sample buffer capacity")
	monitorCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
}

// zonePrinters maps each heart rate zone to its line style.
var zonePrinters = map[session.Zone]*color.Color{
	session.ZoneRest: color.New(color.FgHiBlack),
	session.Zone1:    color.New(color.FgCyan),
	session.Zone2:    color.New(color.FgGreen),
	session.Zone3:    color.New(color.FgYellow),
	session.Zone4:    color.New(color.FgHiYellow),
	session.Zone5:    color.New(color.FgRed),
}

func runMonitor(cmd *cobra.Command, args []string) error {
	address := args[0]

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

	maxHeartRate := monitorMaxHeartRate
	if maxHeartRate <= 0 {
		maxHeartRate = cfg.MaxHeartRate
	}

	connectTimeout := monitorConnectTimeout
	if !cmd.Flags().Changed("connect-timeout") && cfg.ConnectTimeout > 0 {
		connectTimeout = cfg.ConnectTimeout
	}

	// Setup context with signal handling so Ctrl+C ends the stream
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	mon := monitor.NewMonitor(&monitor.Options{
		ConnectTimeout:        connectTimeout,
		DescriptorReadTimeout: -1,
		ControlPointKick:      cfg.ControlPointKick && !monitorNoControlPoint,
	}, logger)
	defer mon.Close()

	// Session collector fed from a dedicated channel so the event loop
	// never blocks on the collector.
	var (
		collector *session.Collector
		samples   chan session.Sample
	)
	if monitorSummary {
		samples = make(chan session.Sample, 256)
		collector, err = session.NewCollector(samples, monitorSummaryCapacity, func(err error) {
			logger.WithError(err).Warn("Session collector error")
		})
		if err != nil {
			return err
		}
		if err := collector.Start(); err != nil {
			return err
		}
	}

	progress := NewProgressPrinter(fmt.Sprintf("Connecting to %s", address), "Connecting", "Streaming", "Failed")
	progress.Start()
	defer progress.Stop()

	events := mon.Events()
	if !mon.ConnectToDevice(address) {
		progress.Callback()("Failed")
		return fmt.Errorf("failed to issue connect request to device %s", address)
	}

	batteryRequested := false
	connected := false
	streaming := false

	for {
		select {
		case <-sigChan:
			progress.Stop()
			fmt.Fprintln(os.Stderr, "\nStopping...")
			mon.Disconnect()
			return finishSession(collector, samples, maxHeartRate)

		case ev, ok := <-events:
			if !ok {
				return finishSession(collector, samples, maxHeartRate)
			}

			switch ev.Type {
			case monitor.EventConnected:
				connected = true
				progress.Callback()("Discovering services")

			case monitor.EventDisconnected:
				progress.Stop()
				if !connected {
					return fmt.Errorf("failed to connect to device %s", address)
				}
				fmt.Fprintln(os.Stderr, "Connection lost")
				if err := finishSession(collector, samples, maxHeartRate); err != nil {
					return err
				}
				return ErrConnectionLost

			case monitor.EventData:
				if !streaming {
					streaming = true
					progress.Callback()("Streaming")
					fmt.Fprintln(os.Stderr, "Streaming. Press Ctrl+C to stop...")
				}
				if monitorBattery && !batteryRequested {
					batteryRequested = true
					mon.ReadBattery()
				}
				printReading(ev.Reading, maxHeartRate)
				if samples != nil && ev.Reading.Kind == profile.KindHeartRate {
					if bpm, err := strconv.Atoi(ev.Reading.Value); err == nil {
						select {
						case samples <- session.Sample{BPM: bpm, At: time.Now()}:
						default:
							logger.Warn("Session sample dropped: collector is behind")
						}
					}
				}
			}
		}
	}
}

// printReading writes one decoded reading to stdout. Heart rate lines are
// colored by zone; battery lines are plain.
func printReading(r *profile.Reading, maxHeartRate int) {
	if r == nil {
		return
	}

	switch r.Kind {
	case profile.KindHeartRate:
		if monitorNoColor {
			fmt.Printf("%s bpm\n", r.Value)
			return
		}
		bpm, err := strconv.Atoi(r.Value)
		if err != nil {
			fmt.Printf("%s bpm\n", r.Value)
			return
		}
		printer, ok := zonePrinters[session.ZoneOf(bpm, maxHeartRate)]
		if !ok {
			fmt.Printf("%d bpm\n", bpm)
			return
		}
		printer.Printf("%d bpm\n", bpm)

	case profile.KindBattery:
		fmt.Printf("battery %s%%\n", r.Value)
	}
}

// finishSession stops the collector and prints the digest.
func finishSession(collector *session.Collector, samples chan session.Sample, maxHeartRate int) error {
	if collector == nil {
		return nil
	}
	close(samples)
	if err := collector.Stop(); err != nil {
		return err
	}

	summary, err := collector.Summarize(maxHeartRate)
	if err != nil {
		return err
	}
	fmt.Print(summary.Format())
	return nil
}
