package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomServiceSendsArbitraryExchangeAndCollectsReplies(t *testing.T) {
	h := newTestHarness(t)
	svc := NewCustomService(h.engine)
	svc.Scope("0020044966", "20", "99", "")
	t.Cleanup(svc.Release)

	h.connect()
	assert.Equal(t, "<S0020044966F20D99FI>", h.nextFrame())

	h.reply("<R0020044966F20D99OKFN>")
	// A reply from a different serial must be ignored.
	h.reply("<R0020030837F01DFM>")

	resp, err := svc.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "0020044966", resp.Serial)
	assert.Len(t, resp.ReceivedTelegrams, 1)
}
