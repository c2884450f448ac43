// Package monitor sequences a GATT connection to a BLE heart rate sensor
// through dial, service discovery, notification enablement, and streaming.
// Connection progress and decoded readings are forwarded to subscribers as
// events; see Event and EventType.
package monitor

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/device"
	"github.com/srg/hrmon/internal/devicefactory"
	"github.com/srg/hrmon/internal/groutine"
	"github.com/srg/hrmon/profile"
)

// controlPointStart instructs the sensor to begin streaming. A vendor
// quirk, not part of the Heart Rate Profile; see Options.ControlPointKick.
var controlPointStart = []byte{0x01, 0x01}

// Monitor owns at most one GATT connection and drives it through the
// connection states. All methods are safe for concurrent use.
//
// Failure handling is deliberately flat: every failure is logged and the
// affected operation aborted; connection failures additionally tear the
// link down. There are no retries and no reconnect attempts.
type Monitor struct {
	mu         sync.Mutex
	state      State
	dev        device.Device
	connCancel context.CancelFunc

	// toggleMu serializes SetHeartRateNotification so the state check and
	// the subscribe or unsubscribe that follows act as one step.
	toggleMu sync.Mutex

	// adapterProbed records a successful adapter probe; the probe runs at
	// most once per monitor, later connects reuse the result.
	adapterProbed bool

	relay  *eventRelay
	opts   Options
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewMonitor creates a Monitor. Nil opts selects DefaultOptions, a nil
// logger a default logrus logger.
func NewMonitor(opts *Options, logger *logrus.Logger) *Monitor {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}

	bufSize := opts.EventBuffer
	if bufSize <= 0 {
		bufSize = DefaultEventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		state:  StateDisconnected,
		relay:  newEventRelay(bufSize, logger),
		opts:   *opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// State returns the current connection state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a callback for monitor events and returns a token
// for Unsubscribe.
func (m *Monitor) Subscribe(cb EventCallback) string {
	return m.relay.subscribe(cb)
}

// Unsubscribe stops delivery to the callback registered under token and
// reports whether the token was known.
func (m *Monitor) Unsubscribe(token string) bool {
	return m.relay.unsubscribe(token)
}

// Events returns a drop-oldest channel view of the event stream. The
// channel closes when the monitor closes. Consumers that must not lose
// events use Subscribe instead.
func (m *Monitor) Events() <-chan Event {
	return m.relay.channel()
}

// ConnectToDevice validates the adapter and address and issues an
// asynchronous connect request. The return value only means the request
// was issued; the outcome arrives later as an EventConnected or
// EventDisconnected event. A request is rejected when the monitor is
// closed, a connection is already in progress, the address is empty, or
// no Bluetooth adapter is available.
func (m *Monitor) ConnectToDevice(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.logger.Warn("Connect rejected: monitor is closed")
		return false
	}
	if m.state != StateDisconnected {
		m.logger.WithField("state", m.state).Warn("Connect rejected: connection already in progress")
		return false
	}
	if address == "" {
		m.logger.Error("Connect rejected: device address is required")
		return false
	}

	// Probe for a usable adapter before resolving the remote device, so an
	// unavailable adapter is reported synchronously rather than through a
	// disconnected event. Opening the host adapter is not free (on linux it
	// resets the HCI device), so a successful probe is not repeated.
	if !m.adapterProbed {
		adapter, err := devicefactory.DeviceFactory()
		if err != nil {
			m.logger.WithError(err).Error("Connect rejected: Bluetooth adapter is not available")
			return false
		}
		_ = adapter.Stop()
		m.adapterProbed = true
	}

	dev := devicefactory.NewDevice(address, m.logger)
	connCtx, connCancel := context.WithCancel(m.ctx)

	m.dev = dev
	m.connCancel = connCancel
	m.applyLocked(evConnectRequested)

	groutine.Go(connCtx, "monitor-connect", func(ctx context.Context) {
		m.runConnect(ctx, dev, address)
	})

	m.logger.WithField("address", address).Info("Connect request issued")
	return true
}

// Disconnect tears down the active connection: cancel, unsubscribe,
// release, disconnected event. It is synchronous and idempotent; calling
// it with no active connection is a no-op.
func (m *Monitor) Disconnect() {
	m.mu.Lock()
	if m.dev == nil {
		m.mu.Unlock()
		m.logger.Debug("Disconnect requested with no active connection")
		return
	}
	dev := m.detachLocked(evDisconnectRequested)
	m.mu.Unlock()

	if err := dev.Disconnect(); err != nil && !errors.Is(err, device.ErrNotConnected) {
		m.logger.WithError(err).Warn("Failed to disconnect device")
	}
	m.relay.publish(Event{Type: EventDisconnected})
	m.logger.Info("Disconnected from device")
}

// Close disconnects and releases the monitor. The event channel closes and
// no further events are delivered. Calling Close twice is a no-op; the
// underlying connection is released at most once.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Debug("Monitor already closed")
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.Disconnect()
	m.cancel()
	m.relay.close()
}

// SetHeartRateNotification enables or disables Heart Rate Measurement
// notifications. Discovery success enables them automatically; disabling
// returns the machine to ServicesDiscovered.
func (m *Monitor) SetHeartRateNotification(enabled bool) {
	m.toggleMu.Lock()
	defer m.toggleMu.Unlock()

	m.mu.Lock()
	dev := m.dev
	state := m.state
	m.mu.Unlock()

	if dev == nil || (state != StateServicesDiscovered && state != StateStreaming) {
		m.logger.WithField("state", state).Warn("Cannot change heart rate notifications before services are discovered")
		return
	}
	if enabled == (state == StateStreaming) {
		m.logger.WithField("enabled", enabled).Debug("Heart rate notifications already in the requested state")
		return
	}

	conn := dev.GetConnection()
	if conn == nil {
		m.logger.Warn("Cannot change heart rate notifications: no active connection")
		return
	}

	if enabled {
		m.enableHeartRate(dev, conn)
	} else {
		m.disableHeartRate(dev, conn)
	}
}

// ReadBattery looks up the Battery Level characteristic and issues an
// asynchronous read. It returns false when no link is up or the service or
// characteristic is missing; a successful read arrives as an EventData
// event, with zero levels suppressed as invalid.
func (m *Monitor) ReadBattery() bool {
	m.mu.Lock()
	dev := m.dev
	state := m.state
	m.mu.Unlock()

	if dev == nil || (state != StateServicesDiscovered && state != StateStreaming) {
		m.logger.WithField("state", state).Warn("Cannot read battery before services are discovered")
		return false
	}

	conn := dev.GetConnection()
	if conn == nil {
		m.logger.Warn("Cannot read battery: no active connection")
		return false
	}

	char, err := conn.GetCharacteristic(profile.BatteryServiceUUID, profile.BatteryLevelUUID)
	if err != nil {
		m.logger.WithError(err).Error("Battery level is not available on this device")
		return false
	}

	groutine.Go(m.ctx, "monitor-battery-read", func(context.Context) {
		data, err := char.Read(0)
		if err != nil {
			m.logger.WithError(err).Error("Failed to read battery level")
			return
		}

		reading, ok := profile.Decode(profile.BatteryLevelUUID, data)
		if !ok {
			m.logger.WithField("len", len(data)).Debug("Battery level read produced no reading")
			return
		}
		m.relay.publish(Event{Type: EventData, Reading: &reading})
	})

	return true
}

// applyLocked advances the state machine. Caller holds m.mu.
func (m *Monitor) applyLocked(ev stateEvent) bool {
	next, ok := transition(m.state, ev)
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"state": m.state,
			"event": ev,
		}).Debug("Ignoring illegal state transition")
		return false
	}
	if next != m.state {
		m.logger.WithFields(logrus.Fields{
			"from":  m.state,
			"to":    next,
			"event": ev,
		}).Debug("Connection state changed")
	}
	m.state = next
	return true
}

// detachLocked clears the owned connection and cancels its context. Caller
// holds m.mu, releases the returned device, and publishes the disconnected
// event after unlocking.
func (m *Monitor) detachLocked(ev stateEvent) device.Device {
	dev := m.dev
	m.dev = nil
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	m.applyLocked(ev)
	return dev
}

// runConnect performs the dial and, when it succeeds, the discovery and
// notification enablement sequence.
func (m *Monitor) runConnect(ctx context.Context, dev device.Device, address string) {
	err := dev.Dial(ctx, &device.ConnectOptions{
		Address:               address,
		ConnectTimeout:        m.opts.ConnectTimeout,
		DescriptorReadTimeout: m.opts.DescriptorReadTimeout,
	})

	m.mu.Lock()
	if m.dev != dev {
		m.mu.Unlock()
		// Torn down while the dial was in flight; release the stray link.
		if err == nil {
			_ = dev.Disconnect()
		}
		return
	}

	if err != nil {
		m.detachLocked(evConnectFailed)
		m.mu.Unlock()
		m.logger.WithError(err).WithField("address", address).Error("Failed to connect to device")
		_ = dev.Disconnect()
		m.relay.publish(Event{Type: EventDisconnected})
		return
	}

	m.applyLocked(evConnectEstablished)
	m.mu.Unlock()

	m.relay.publish(Event{Type: EventConnected})
	m.watchConnection(dev)

	if err := dev.DiscoverServices(ctx); err != nil {
		// Log and stop. The link stays up; the caller decides whether to
		// keep or drop it.
		m.logger.WithError(err).WithField("address", address).Error("Service discovery failed")
		return
	}

	m.mu.Lock()
	if m.dev != dev {
		m.mu.Unlock()
		return
	}
	m.applyLocked(evDiscoveryCompleted)
	m.mu.Unlock()

	m.logger.WithField("address", address).Info("Services discovered")
	m.SetHeartRateNotification(true)
}

// watchConnection tears the monitor down when the adapter reports the link
// dropped. A teardown initiated through Disconnect or Close wins the race
// and the watch exits quietly.
func (m *Monitor) watchConnection(dev device.Device) {
	conn := dev.GetConnection()
	if conn == nil {
		return
	}
	connCtx := conn.ConnectionContext()
	if connCtx == nil {
		return
	}

	groutine.Go(m.ctx, "monitor-connection-watch", func(ctx context.Context) {
		select {
		case <-connCtx.Done():
		case <-ctx.Done():
			return
		}

		m.mu.Lock()
		if m.dev != dev {
			m.mu.Unlock()
			return
		}
		m.detachLocked(evConnectionLost)
		m.mu.Unlock()

		m.logger.WithField("cause", context.Cause(connCtx)).Warn("Connection lost")
		_ = dev.Disconnect()
		m.relay.publish(Event{Type: EventDisconnected})
	})
}

// enableHeartRate subscribes to Heart Rate Measurement notifications (the
// adapter registers local interest and writes the CCCD) and then, when
// configured, kicks the control point.
func (m *Monitor) enableHeartRate(dev device.Device, conn device.Connection) {
	subOpts := []*device.SubscribeOptions{{
		Service:         profile.HeartRateServiceUUID,
		Characteristics: []string{profile.HeartRateMeasurementUUID},
	}}

	if err := conn.Subscribe(subOpts, device.StreamEveryUpdate, 0, m.handleRecord); err != nil {
		m.logger.WithError(err).Error("Failed to enable heart rate notifications")
		return
	}

	if m.opts.ControlPointKick {
		m.kickControlPoint(conn)
	}

	m.mu.Lock()
	if m.dev == dev {
		m.applyLocked(evNotificationsEnabled)
	}
	m.mu.Unlock()

	m.logger.Info("Heart rate notifications enabled")
}

// disableHeartRate cancels the Heart Rate Measurement subscription.
func (m *Monitor) disableHeartRate(dev device.Device, conn device.Connection) {
	err := conn.Unsubscribe(&device.SubscribeOptions{
		Service:         profile.HeartRateServiceUUID,
		Characteristics: []string{profile.HeartRateMeasurementUUID},
	})
	if err != nil {
		m.logger.WithError(err).Error("Failed to disable heart rate notifications")
		return
	}

	m.mu.Lock()
	if m.dev == dev {
		m.applyLocked(evNotificationsDisabled)
	}
	m.mu.Unlock()

	m.logger.Info("Heart rate notifications disabled")
}

// kickControlPoint writes the start command to the Heart Rate Control
// Point. Sensors without the characteristic are common; that case is
// logged and ignored.
func (m *Monitor) kickControlPoint(conn device.Connection) {
	char, err := conn.GetCharacteristic(profile.HeartRateServiceUUID, profile.HeartRateControlPoint)
	if err != nil {
		m.logger.WithError(err).Debug("Heart rate control point not present, skipping start command")
		return
	}

	if err := char.Write(controlPointStart, true, 0); err != nil {
		m.logger.WithError(err).Warn("Failed to write heart rate control point start command")
		return
	}
	m.logger.Debug("Heart rate control point start command written")
}

// handleRecord decodes characteristic values from a subscription record
// and forwards the decoded readings. Values that do not decode (unknown
// characteristic, short payload) are dropped.
func (m *Monitor) handleRecord(rec *device.Record) {
	for charUUID, data := range rec.Values {
		reading, ok := profile.Decode(charUUID, data)
		if !ok {
			m.logger.WithFields(logrus.Fields{
				"characteristic": charUUID,
				"len":            len(data),
			}).Debug("Ignoring undecodable characteristic value")
			continue
		}
		r := reading
		m.relay.publish(Event{Type: EventData, Reading: &r})
	}
}
