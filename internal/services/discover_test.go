package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverServiceAccumulatesDevicesUntilTimeout(t *testing.T) {
	h := newTestHarness(t)
	svc := NewDiscoverService(h.engine)
	svc.Scope()
	t.Cleanup(svc.Release)

	found := make(chan string, 4)
	svc.OnDeviceFound.Connect(func(serial string) { found <- serial })

	h.connect()
	req := h.nextFrame()
	assert.Equal(t, "<S0000000000F01D00FA>", req)

	h.reply("<R0020030837F01DFM>")
	h.reply("<R0020044966F01DFK>")
	// Duplicate reply must not double-count the device.
	h.reply("<R0020030837F01DFM>")

	for i := 0; i < 2; i++ {
		select {
		case <-found:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for on_device_found")
		}
	}

	resp, err := svc.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"0020030837", "0020044966"}, resp.Devices)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Len(t, resp.ReceivedTelegrams, 3)
}

func TestDiscoverServiceReleaseDetachesHandlers(t *testing.T) {
	h := newTestHarness(t)
	svc := NewDiscoverService(h.engine)
	svc.Scope()

	found := make(chan string, 4)
	svc.OnDeviceFound.Connect(func(serial string) { found <- serial })

	h.connect()
	h.nextFrame()
	svc.Release()

	// A reply arriving after Release must not be observed: no device_found,
	// no panic from a stale handler touching released state.
	h.reply("<R0020030837F01DFM>")

	select {
	case <-found:
		t.Fatal("on_device_found fired after Release")
	case <-time.After(100 * time.Millisecond):
	}
}
