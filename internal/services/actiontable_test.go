package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conbus/xp/internal/registry"
)

func TestGenericActionTableSerializerRoundTrip(t *testing.T) {
	s := DefaultActionTableSerializer
	row := s.EncodeRow(ActionTableEntry{
		SourceModuleType: "XP20",
		SourceLink:       10,
		SourceInput:      0,
		TargetOutput:     0,
		Action:           registry.ActionTurnOff,
	})
	assert.Equal(t, "XP20,10,0,0,TURNOFF", row)

	entry, terminator, err := s.DecodeRow(row)
	require.NoError(t, err)
	assert.False(t, terminator)
	assert.Equal(t, "XP20", entry.SourceModuleType)
	assert.Equal(t, 10, entry.SourceLink)
	assert.Equal(t, registry.ActionTurnOff, entry.Action)
	assert.Equal(t, "XP20 10 0 > 0 TURNOFF", entry.String())
}

func TestGenericActionTableSerializerDetectsTerminator(t *testing.T) {
	_, terminator, err := DefaultActionTableSerializer.DecodeRow("END")
	require.NoError(t, err)
	assert.True(t, terminator)
}

func TestActionTableDownloadServiceCollectsRowsUntilTerminator(t *testing.T) {
	h := newTestHarness(t)
	svc := NewActionTableDownloadService(h.engine)
	svc.Scope("0020044966")
	t.Cleanup(svc.Release)

	var progress []string
	svc.OnProgress.Connect(func(line string) { progress = append(progress, line) })

	h.connect()
	assert.Equal(t, "<S0020044966F11D00FK>", h.nextFrame())
	h.replyPayload("R0020044966F11D00XP20,10,0,0,TURNOFF")

	h.nextFrame() // request for row 1
	h.replyPayload("R0020044966F11D01END")

	resp, err := svc.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Len(t, resp.Table.Entries, 1)
	assert.Equal(t, "XP20 10 0 > 0 TURNOFF", resp.ShortLines[0])
	assert.Len(t, progress, 1)
}
