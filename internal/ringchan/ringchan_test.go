package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRingChannelPanicsOnInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { NewRingChannel[int](0) })
	assert.Panics(t, func() { NewRingChannel[int](-1) })
}

func TestSendOverwritesOldest(t *testing.T) {
	rc := NewRingChannel[int](3)

	for i := 0; i < 10; i++ {
		rc.Send(i)
	}

	require.Equal(t, 3, rc.Len())

	var got []int
	for i := 0; i < 3; i++ {
		v, ok := rc.Receive()
		require.True(t, ok)
		got = append(got, v)
	}

	assert.Equal(t, []int{7, 8, 9}, got)

	m := rc.GetMetrics()
	assert.Equal(t, int64(10), m.Written)
	assert.Equal(t, int64(7), m.Overwritten)
	assert.Equal(t, int64(3), m.Processed)
}

func TestTrySendFailsWhenFull(t *testing.T) {
	rc := NewRingChannel[string](2)

	assert.True(t, rc.TrySend("a"))
	assert.True(t, rc.TrySend("b"))
	assert.False(t, rc.TrySend("c"))

	v, ok := rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestForceSendReportsDrop(t *testing.T) {
	rc := NewRingChannel[int](1)

	assert.False(t, rc.ForceSend(1))
	assert.True(t, rc.ForceSend(2))

	v, ok := rc.Receive()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestTryReceiveOnEmpty(t *testing.T) {
	rc := NewRingChannel[int](1)

	v, ok := rc.TryReceive()
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestReceiveAfterClose(t *testing.T) {
	rc := NewRingChannel[int](2)
	rc.Send(42)
	rc.Close()

	v, ok := rc.Receive()
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = rc.Receive()
	assert.False(t, ok)
}

func TestRawChannelBypassesProcessedMetric(t *testing.T) {
	rc := NewRingChannel[int](2)
	rc.Send(1)

	<-rc.C()

	m := rc.GetMetrics()
	assert.Equal(t, int64(0), m.Processed)
	assert.Equal(t, int64(1), m.Written)
}

func TestLenAndCap(t *testing.T) {
	rc := NewRingChannel[int](4)
	assert.Equal(t, 0, rc.Len())
	assert.Equal(t, 4, rc.Cap())

	rc.Send(1)
	rc.Send(2)
	assert.Equal(t, 2, rc.Len())
}
