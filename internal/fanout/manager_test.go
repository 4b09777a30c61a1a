package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastDeliversToEveryRegisteredClient(t *testing.T) {
	m := NewClientBufferManager(8)
	id1, q1 := m.Register()
	id2, q2 := m.Register()
	require.NotEqual(t, id1, id2)

	overflowed := m.Broadcast([]byte("<S0000000000F01D00FA>"))
	assert.Empty(t, overflowed)

	assert.Equal(t, []byte("<S0000000000F01D00FA>"), <-q1.Frames())
	assert.Equal(t, []byte("<S0000000000F01D00FA>"), <-q2.Frames())
}

func TestUnregisterStopsFutureBroadcasts(t *testing.T) {
	m := NewClientBufferManager(8)
	id, q := m.Register()
	m.Unregister(id)

	m.Broadcast([]byte("<S0000000000F01D00FA>"))
	select {
	case <-q.Frames():
		t.Fatal("unregistered client received a broadcast frame")
	default:
	}
	assert.Equal(t, 0, m.Count())
}

func TestBroadcastDisconnectsClientThatExceedsItsSoftCap(t *testing.T) {
	m := NewClientBufferManager(2)
	id, _ := m.Register()

	m.Broadcast([]byte("frame-1"))
	m.Broadcast([]byte("frame-2"))
	overflowed := m.Broadcast([]byte("frame-3"))

	require.Len(t, overflowed, 1)
	assert.Equal(t, id, overflowed[0])
	assert.Equal(t, 0, m.Count())
}
