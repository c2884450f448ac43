package testutils

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/srg/hrmon/internal/device"
	"github.com/srg/hrmon/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// createMockUUID creates a ble.UUID from a string for testing
func createMockUUID(name string) blelib.UUID {
	// Parse as proper UUID - will panic if invalid, which is fine for tests
	return blelib.MustParse(name)
}

// CharacteristicConfig represents a BLE characteristic configuration for mocking.
// Value is a number array rather than []byte so JSON profiles can spell bytes
// literally ("value": [0, 72]) instead of base64.
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value      []int  `json:"value,omitempty"`

	ReadDelay  time.Duration `json:"-"`
	WriteDelay time.Duration `json:"-"`
}

// CharacteristicOption adjusts a characteristic beyond UUID, properties and value.
type CharacteristicOption func(*CharacteristicConfig)

// WithReadDelay makes reads of the characteristic block for d before
// returning, for exercising read timeouts.
func WithReadDelay(d time.Duration) CharacteristicOption {
	return func(c *CharacteristicConfig) { c.ReadDelay = d }
}

// WithWriteDelay makes writes to the characteristic block for d before
// returning, for exercising write timeouts.
func WithWriteDelay(d time.Duration) CharacteristicOption {
	return func(c *CharacteristicConfig) { c.WriteDelay = d }
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds mocked BLE devices with full
// service/characteristic support. Every Build() produces a fresh
// ble.Device/ble.Client pair against the same profile, while notification
// handlers, the operation log, and the disconnect channel live on the
// builder so tests can drive the peripheral regardless of how many times
// the device factory ran:
//
//   - Notify(uuid, data) pushes a notification through the handler captured
//     by the most recent subscribe.
//   - Operations() returns the GATT operations in call order
//     ("subscribe 2a37", "write 2a39 0101", ...).
//   - SimulateDisconnect() closes the client's Disconnected() channel, which
//     the connection layer treats as a host-reported link drop.
type PeripheralDeviceBuilder struct {
	t                  *testing.T
	profile            DeviceProfileConfig
	scanAdvertisements []blelib.Advertisement

	dialErr     error
	discoverErr error

	mu             sync.Mutex
	notifyHandlers map[string]blelib.NotificationHandler
	operations     []string

	disconnectCh   chan struct{}
	disconnectOnce sync.Once
}

// NewPeripheralDeviceBuilder creates a new peripheral device builder. The
// disconnect channel is closed automatically when the test finishes so
// connection watch goroutines do not outlive the test.
func NewPeripheralDeviceBuilder(t *testing.T) *PeripheralDeviceBuilder {
	b := &PeripheralDeviceBuilder{
		t: t,
		profile: DeviceProfileConfig{
			Services: []ServiceConfig{},
		},
		notifyHandlers: make(map[string]blelib.NotificationHandler),
		disconnectCh:   make(chan struct{}),
	}

	t.Cleanup(func() {
		b.disconnectOnce.Do(func() { close(b.disconnectCh) })
	})

	return b
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string, value []byte, opts ...CharacteristicOption) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	intValue := make([]int, len(value))
	for i, v := range value {
		intValue[i] = int(v)
	}

	lastServiceIdx := len(b.profile.Services) - 1
	char := CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      intValue,
	}
	for _, opt := range opts {
		opt(&char)
	}
	b.profile.Services[lastServiceIdx].Characteristics = append(
		b.profile.Services[lastServiceIdx].Characteristics, char)
	return b
}

// WithDialError makes Dial fail, simulating a connection failure.
func (b *PeripheralDeviceBuilder) WithDialError(err error) *PeripheralDeviceBuilder {
	b.dialErr = err
	return b
}

// WithDiscoverError makes DiscoverProfile fail, simulating a service
// discovery failure on an established link.
func (b *PeripheralDeviceBuilder) WithDiscoverError(err error) *PeripheralDeviceBuilder {
	b.discoverErr = err
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// WithScanAdvertisements returns an AdvertisementArrayBuilder that will return this PeripheralDeviceBuilder on Build()
func (b *PeripheralDeviceBuilder) WithScanAdvertisements() *AdvertisementArrayBuilder[*PeripheralDeviceBuilder] {
	arrayBuilder := NewAdvertisementArrayBuilder[*PeripheralDeviceBuilder]()
	arrayBuilder.parent = b
	arrayBuilder.buildFunc = func(parent *PeripheralDeviceBuilder, ads []blelib.Advertisement) *PeripheralDeviceBuilder {
		parent.scanAdvertisements = append(parent.scanAdvertisements, ads...)
		return parent
	}
	return arrayBuilder
}

// Notify delivers a notification payload through the handler captured by
// the most recent subscribe to the characteristic. It reports whether a
// handler was registered.
func (b *PeripheralDeviceBuilder) Notify(charUUID string, data []byte) bool {
	key := device.NormalizeUUID(charUUID)

	b.mu.Lock()
	h := b.notifyHandlers[key]
	b.mu.Unlock()

	if h == nil {
		return false
	}
	h(data)
	return true
}

// SimulateDisconnect reports a host-initiated link drop by closing the
// client's Disconnected() channel. Safe to call more than once.
func (b *PeripheralDeviceBuilder) SimulateDisconnect() {
	b.disconnectOnce.Do(func() { close(b.disconnectCh) })
}

// Operations returns a snapshot of the GATT operations performed against
// the peripheral, in call order.
func (b *PeripheralDeviceBuilder) Operations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ops := make([]string, len(b.operations))
	copy(ops, b.operations)
	return ops
}

func (b *PeripheralDeviceBuilder) logOp(op string) {
	b.mu.Lock()
	b.operations = append(b.operations, op)
	b.mu.Unlock()
}

// parseCharacteristicProperties converts a comma-separated property string
// to ble.Property flags. Unknown tokens are ignored; an empty or fully
// unknown string falls back to read|write|notify.
func parseCharacteristicProperties(props string) blelib.Property {
	var property blelib.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "broadcast":
			property |= blelib.CharBroadcast
		case "read":
			property |= blelib.CharRead
		case "write-without-response":
			property |= blelib.CharWriteNR
		case "write":
			property |= blelib.CharWrite
		case "notify":
			property |= blelib.CharNotify
		case "indicate":
			property |= blelib.CharIndicate
		}
	}
	if property == 0 {
		property = blelib.CharRead | blelib.CharWrite | blelib.CharNotify
	}
	return property
}

// Build creates a mocked ble.Device with the configured profile
func (b *PeripheralDeviceBuilder) Build() blelib.Device {
	mockDevice := &mocks.MockDevice{}
	mockClient := &mocks.MockClient{}

	// Create the BLE profile with services and characteristics
	var bleServices []*blelib.Service
	charConfigs := make(map[string]CharacteristicConfig)
	for _, svcConfig := range b.profile.Services {
		bleService := &blelib.Service{
			UUID: createMockUUID(svcConfig.UUID),
		}

		var bleCharacteristics []*blelib.Characteristic
		for _, charConfig := range svcConfig.Characteristics {
			value := make([]byte, len(charConfig.Value))
			for i, v := range charConfig.Value {
				value[i] = byte(v)
			}
			bleChar := &blelib.Characteristic{
				UUID:     createMockUUID(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
				Value:    value,
			}
			bleCharacteristics = append(bleCharacteristics, bleChar)
			charConfigs[device.NormalizeUUID(charConfig.UUID)] = charConfig
		}
		bleService.Characteristics = bleCharacteristics
		bleServices = append(bleServices, bleService)
	}

	// Create the profile that will be returned by DiscoverProfile
	mockProfile := &blelib.Profile{
		Services: bleServices,
	}

	// Set up mock expectations
	mockDevice.On("Stop").Return(nil)

	if b.dialErr != nil {
		mockDevice.On("Dial", mock.Anything, mock.Anything).Return(nil, b.dialErr)
	} else {
		mockDevice.On("Dial", mock.Anything, mock.Anything).Return(mockClient, nil)
	}

	if b.discoverErr != nil {
		mockClient.On("DiscoverProfile", true).Return(nil, b.discoverErr)
	} else {
		mockClient.On("DiscoverProfile", true).Return(mockProfile, nil)
	}

	mockClient.On("CancelConnection").Return(nil)

	var disconnected <-chan struct{} = b.disconnectCh
	mockClient.On("Disconnected").Return(disconnected)

	// Per-characteristic expectations. Handlers passed to Subscribe are
	// captured so tests can push notifications; every operation lands in
	// the operation log.
	for _, svc := range bleServices {
		for _, char := range svc.Characteristics {
			char := char
			key := device.NormalizeUUID(char.UUID.String())
			cfg := charConfigs[key]

			mockClient.On("Subscribe", char, false, mock.Anything).Run(func(args mock.Arguments) {
				if h, ok := args.Get(2).(blelib.NotificationHandler); ok {
					b.mu.Lock()
					b.notifyHandlers[key] = h
					b.mu.Unlock()
				}
				b.logOp("subscribe " + key)
			}).Return(nil)

			for _, ind := range []bool{false, true} {
				ind := ind
				mockClient.On("Unsubscribe", char, ind).Run(func(mock.Arguments) {
					b.mu.Lock()
					delete(b.notifyHandlers, key)
					b.mu.Unlock()
					b.logOp("unsubscribe " + key)
				}).Return(nil)
			}

			if char.Property&blelib.CharRead != 0 {
				mockClient.On("ReadCharacteristic", char).Run(func(mock.Arguments) {
					if cfg.ReadDelay > 0 {
						time.Sleep(cfg.ReadDelay)
					}
					b.logOp("read " + key)
				}).Return(char.Value, nil)
			} else {
				mockClient.On("ReadCharacteristic", char).Return(nil, fmt.Errorf("characteristic does not support read"))
			}

			if char.Property&(blelib.CharWrite|blelib.CharWriteNR) != 0 {
				mockClient.On("WriteCharacteristic", char, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
					if cfg.WriteDelay > 0 {
						time.Sleep(cfg.WriteDelay)
					}
					value, _ := args.Get(1).([]byte)
					b.logOp(fmt.Sprintf("write %s %x", key, value))
				}).Return(nil)
			}
		}
	}

	// Set up scan expectations - simulate discovering the configured advertisements
	mockDevice.On("Scan", mock.Anything, mock.Anything, mock.MatchedBy(func(handler blelib.AdvHandler) bool {
		// Simulate discovering all configured advertisements
		for _, adv := range b.scanAdvertisements {
			handler(adv)
		}
		return true
	})).Return(nil)

	return mockDevice
}

// GetServices returns the configured services for use in creating connection options
func (b *PeripheralDeviceBuilder) GetServices() []ServiceConfig {
	return b.profile.Services
}
