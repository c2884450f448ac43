package monitor

import "time"

// DefaultEventBuffer is the capacity of the Events() channel view.
const DefaultEventBuffer = 128

// Options configures a Monitor.
type Options struct {
	// ConnectTimeout bounds the dial. Zero means no deadline: the monitor
	// waits for the adapter to report an outcome, however long that takes.
	ConnectTimeout time.Duration

	// DescriptorReadTimeout is passed through to service discovery
	// (0 = adapter default, negative = skip descriptor reads).
	DescriptorReadTimeout time.Duration

	// ControlPointKick writes {0x01, 0x01} to the Heart Rate Control Point
	// after notifications are enabled. Some chest straps will not stream
	// until they receive it; sensors without the characteristic ignore the
	// setting. Do not assume the command generalizes across vendors.
	ControlPointKick bool

	// EventBuffer is the Events() channel capacity (0 = DefaultEventBuffer).
	EventBuffer int
}

// DefaultOptions returns the options used when NewMonitor receives nil.
func DefaultOptions() *Options {
	return &Options{
		DescriptorReadTimeout: -1, // descriptor values are not needed for streaming
		ControlPointKick:      true,
		EventBuffer:           DefaultEventBuffer,
	}
}
