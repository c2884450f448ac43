package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/hrmon/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost during operation.
	// This is distinct from device.ErrNotConnected, which indicates an attempt to use
	// a device that was never connected or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError renders an error for end users: known failure kinds get a
// short actionable message, everything else falls through unchanged.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is not available - enable Bluetooth and retry"

	case errors.Is(err, device.ErrDeviceNotFound):
		return "device not found - check the address and make sure the sensor is advertising"

	case errors.Is(err, ErrConnectionLost):
		return "connection lost - the sensor went out of range or powered off"

	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("operation timed out: %v", err)
	}

	var nfe *device.NotFoundError
	if errors.As(err, &nfe) {
		return nfe.Error()
	}

	return err.Error()
}
