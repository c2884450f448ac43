package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionLegalPaths(t *testing.T) {
	tests := []struct {
		name string
		from State
		ev   stateEvent
		want State
	}{
		{"connect request", StateDisconnected, evConnectRequested, StateConnecting},
		{"dial succeeded", StateConnecting, evConnectEstablished, StateConnected},
		{"dial failed", StateConnecting, evConnectFailed, StateDisconnected},
		{"discovery completed", StateConnected, evDiscoveryCompleted, StateServicesDiscovered},
		{"notifications enabled", StateServicesDiscovered, evNotificationsEnabled, StateStreaming},
		{"notifications disabled", StateStreaming, evNotificationsDisabled, StateServicesDiscovered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := transition(tt.from, tt.ev)
			assert.True(t, ok)
			assert.Equal(t, tt.want, next)
		})
	}
}

func TestTransitionEveryStateReachesDisconnectedOnFailure(t *testing.T) {
	states := []State{StateConnecting, StateConnected, StateServicesDiscovered, StateStreaming}

	for _, from := range states {
		next, ok := transition(from, evConnectionLost)
		assert.True(t, ok, "connection loss must be legal from %s", from)
		assert.Equal(t, StateDisconnected, next)
	}
}

func TestTransitionDisconnectIsLegalEverywhere(t *testing.T) {
	states := []State{StateDisconnected, StateConnecting, StateConnected, StateServicesDiscovered, StateStreaming}

	for _, from := range states {
		next, ok := transition(from, evDisconnectRequested)
		assert.True(t, ok, "disconnect must be legal from %s", from)
		assert.Equal(t, StateDisconnected, next)
	}
}

func TestTransitionRejectsIllegalEvents(t *testing.T) {
	tests := []struct {
		name string
		from State
		ev   stateEvent
	}{
		{"connect while connecting", StateConnecting, evConnectRequested},
		{"connect while streaming", StateStreaming, evConnectRequested},
		{"established without request", StateDisconnected, evConnectEstablished},
		{"discovery before connect", StateDisconnected, evDiscoveryCompleted},
		{"discovery while streaming", StateStreaming, evDiscoveryCompleted},
		{"enable before discovery", StateConnected, evNotificationsEnabled},
		{"re-enable while streaming", StateStreaming, evNotificationsEnabled},
		{"disable before streaming", StateServicesDiscovered, evNotificationsDisabled},
		{"loss while disconnected", StateDisconnected, evConnectionLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := transition(tt.from, tt.ev)
			assert.False(t, ok)
			assert.Equal(t, tt.from, next, "illegal events must not move the machine")
		})
	}
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "services_discovered", StateServicesDiscovered.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "unknown", State(99).String())
}
