package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/hrmon/inspector"
	"github.com/srg/hrmon/internal/device"
	"github.com/srg/hrmon/profile"
)

// batteryCmd represents the battery command
var batteryCmd = &cobra.Command{
	Use:   "battery <device-address>",
	Short: "Read the battery level of a sensor",
	Long: fmt.Sprintf(`Connects to a BLE device, reads the Battery Level characteristic (2a19)
from the Battery Service (180f), and prints the level as a percentage.

Sensors report a level of 0 before the first real sample; that value is
treated as absent and reported as unavailable.

Example:
  hrmon battery %s

%s`, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runBattery,
}

var (
	batteryConnectTimeout time.Duration
	batteryReadTimeout    time.Duration
)

func init() {
	batteryCmd.Flags().DurationVar(&batteryConnectTimeout, "connect-timeout", 30*time.Second, "Connection timeout")
	batteryCmd.Flags().DurationVar(&batteryReadTimeout, "timeout", 5*time.Second, "Read timeout")
	batteryCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
}

func runBattery(cmd *cobra.Command, args []string) error {
	address := args[0]

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(fmt.Sprintf("Reading battery level from %s", address), "Connecting", "Processing results")
	progress.Start()
	defer progress.Stop()

	opts := &inspector.InspectOptions{
		ConnectTimeout:        batteryConnectTimeout,
		DescriptorReadTimeout: -1, // descriptor values are not needed
	}

	ctx := context.Background()

	level, err := inspector.InspectDevice(ctx, address, opts, logger, progress.Callback(),
		func(dev device.Device) (uint8, error) {
			conn := dev.GetConnection()
			if conn == nil {
				return 0, fmt.Errorf("device not connected")
			}

			char, err := conn.GetCharacteristic(profile.BatteryServiceUUID, profile.BatteryLevelUUID)
			if err != nil {
				return 0, fmt.Errorf("battery level is not available on this device: %w", err)
			}

			data, err := char.Read(batteryReadTimeout)
			if err != nil {
				return 0, fmt.Errorf("failed to read battery level: %w", err)
			}

			level, ok := profile.DecodeBatteryLevel(data)
			if !ok {
				return 0, fmt.Errorf("battery level not reported yet, try again in a few seconds")
			}
			return level, nil
		})
	if err != nil {
		return err
	}

	progress.Stop()
	fmt.Printf("%d%%\n", level)
	return nil
}
