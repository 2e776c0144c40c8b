package beacon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIBeacon(t *testing.T) {
	data := []byte{0x02, 0x15,
		0xf7, 0x82, 0x6d, 0xa6, 0x4f, 0xa2, 0x4e, 0x98, 0x80, 0x24, 0xbc, 0x5b, 0x71, 0xe0, 0x89, 0x3e,
		0x00, 0x01, 0x00, 0x2a, 0xc5}

	frame, ok := ParseIBeacon(0x004C, data)
	require.True(t, ok)
	assert.Equal(t, "f7826da6-4fa2-4e98-8024-bc5b71e0893e", frame.ProximityUUID)
	assert.Equal(t, uint16(1), frame.Major)
	assert.Equal(t, uint16(42), frame.Minor)
	assert.Equal(t, int8(-59), frame.TxPower)
}

func TestParseIBeaconRejectsOtherFrames(t *testing.T) {
	_, ok := ParseIBeacon(0x0059, make([]byte, 23))
	assert.False(t, ok)

	_, ok = ParseIBeacon(0x004C, []byte{0x02, 0x15, 0x01})
	assert.False(t, ok)

	frame := make([]byte, 23)
	frame[0] = 0x10
	_, ok = ParseIBeacon(0x004C, frame)
	assert.False(t, ok)
}

func TestSimulatedDriverDeliversOnlyWhileActive(t *testing.T) {
	d := NewSimulatedDriver(StateOn)
	var got []Detection
	assert.False(t, d.Emit("aa", -50))

	require.NoError(t, d.StartDiscovery(context.Background(), []string{"aa"}, Callbacks{
		OnEvent: func(det Detection) { got = append(got, det) },
	}))
	assert.ErrorIs(t, d.StartDiscovery(context.Background(), nil, Callbacks{}), ErrAlreadyActive)
	assert.True(t, d.Emit("aa", -50))
	assert.Equal(t, []string{"aa"}, d.Filter())

	require.NoError(t, d.StopDiscovery())
	require.NoError(t, d.StopDiscovery())
	assert.False(t, d.Emit("aa", -50))
	assert.Len(t, got, 1)
	assert.Equal(t, 1, d.Starts())
	assert.Equal(t, 1, d.Stops())
}

func TestSimulatedDriverStateTransitions(t *testing.T) {
	d := NewSimulatedDriver(StateUnauthorized)
	var seen []State
	unsubscribe := d.SubscribeState(func(s State) { seen = append(seen, s) })

	err := d.StartDiscovery(context.Background(), nil, Callbacks{})
	assert.ErrorIs(t, err, ErrNotReady)

	granted, err := d.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, StateOn, d.State())

	require.NoError(t, d.StartDiscovery(context.Background(), nil, Callbacks{}))
	d.SetState(StateOff)
	assert.False(t, d.Active())

	unsubscribe()
	d.SetState(StateOn)
	assert.Equal(t, []State{StateOn, StateOff}, seen)
}

func TestSimulatedDriverWindowExpiry(t *testing.T) {
	d := NewSimulatedDriver(StateOn)
	fired := make(chan struct{}, 1)
	require.NoError(t, d.StartDiscovery(context.Background(), nil, Callbacks{
		OnTimeout: func() { fired <- struct{}{} },
	}))
	d.ExpireWindow()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timeout callback not fired")
	}
	assert.False(t, d.Active())
}

func TestSimulatedDriverSlowTeardown(t *testing.T) {
	d := NewSimulatedDriver(StateOn)
	d.SetTeardownDelay(30 * time.Millisecond)
	require.NoError(t, d.StartDiscovery(context.Background(), nil, Callbacks{}))

	require.NoError(t, d.StopDiscovery())
	assert.False(t, d.Active())
	assert.True(t, d.TearingDown())

	start := time.Now()
	require.NoError(t, d.StartDiscovery(context.Background(), nil, Callbacks{}))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.False(t, d.TearingDown())
	assert.True(t, d.Active())
	assert.Equal(t, 2, d.Starts())
}
