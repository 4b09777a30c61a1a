package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFramesFindsEveryFrame(t *testing.T) {
	frames := ExtractFrames("noise<S0020044964F05D00FN>middle<R0020044964F18DFA>trailing")
	require.Len(t, frames, 2)
	assert.Equal(t, "<S0020044964F05D00FN>", string(frames[0]))
	assert.Equal(t, "<R0020044964F18DFA>", string(frames[1]))
}

func TestRawServiceSendsFramesVerbatimWithoutValidation(t *testing.T) {
	h := newTestHarness(t)
	svc := NewRawService(h.engine)
	// A deliberately wrong checksum ("ZZ" instead of "FN") must reach the
	// wire unchanged: the Raw service performs no validation.
	svc.Scope("<S0020044964F05D00ZZ>")
	t.Cleanup(svc.Release)

	h.connect()
	assert.Equal(t, "<S0020044964F05D00ZZ>", h.nextFrame())

	h.reply("<R0020044964F18DFA>")

	resp, err := svc.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Len(t, resp.ReceivedTelegrams, 1)
}
