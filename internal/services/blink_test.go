package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlinkServiceSucceedsOnAck(t *testing.T) {
	h := newTestHarness(t)
	svc := NewBlinkService(h.engine)
	svc.Scope("0020044964", true)
	t.Cleanup(svc.Release)

	h.connect()
	assert.Equal(t, "<S0020044964F05D00FN>", h.nextFrame())

	h.reply("<R0020044964F18DFA>")

	resp, err := svc.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, StatusOK, resp.Status)
}

func TestBlinkServiceUnblinkSendsF06(t *testing.T) {
	h := newTestHarness(t)
	svc := NewBlinkService(h.engine)
	svc.Scope("0020044964", false)
	t.Cleanup(svc.Release)

	h.connect()
	frame := h.nextFrame()
	assert.Contains(t, frame, "F06D00")
}

func TestBlinkAllServiceWaitsForEverySerial(t *testing.T) {
	h := newTestHarness(t)
	svc := NewBlinkAllService(h.engine)
	svc.Scope([]string{"0020044964", "0020044965"}, true)
	t.Cleanup(svc.Release)

	h.connect()
	h.nextFrame()
	h.nextFrame()

	h.reply("<R0020044964F18DFA>")
	h.reply("<R0020044965F18DFB>")

	resp, err := svc.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Len(t, resp.Results, 2)
}
