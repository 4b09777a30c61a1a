package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conbus/xp/internal/registry"
)

func TestDatapointReadServiceParsesReply(t *testing.T) {
	h := newTestHarness(t)
	svc := NewDatapointReadService(h.engine)
	svc.Scope("0020044966", registry.DPModuleType)
	t.Cleanup(svc.Release)

	h.connect()
	assert.Equal(t, "<S0020044966F02D23FJ>", h.nextFrame())

	h.reply("<R0020044966F02D23XP33FA>")

	resp, err := svc.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "XP33", resp.Value.Raw)
}

func TestDatapointWriteServiceSucceedsOnAck(t *testing.T) {
	h := newTestHarness(t)
	svc := NewDatapointWriteService(h.engine)
	svc.Scope("0020044966", registry.DPOutputState, "xxxx1110")
	t.Cleanup(svc.Release)

	h.connect()
	assert.Equal(t, "<S0020044966F04D12xxxx1110FM>", h.nextFrame())

	h.reply("<R0020044966F18DFC>")

	resp, err := svc.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
}
