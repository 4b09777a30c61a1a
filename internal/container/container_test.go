package container

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conbus/xp/internal/busproto"
)

func TestNewWiresEveryServiceAgainstTheSameEngine(t *testing.T) {
	c := New(busproto.DefaultConfig("127.0.0.1", 10001), nil)

	assert.NotNil(t, c.Engine)
	assert.NotNil(t, c.Discover)
	assert.NotNil(t, c.Scan)
	assert.NotNil(t, c.Raw)
	assert.NotNil(t, c.Custom)
	assert.NotNil(t, c.DatapointRead)
	assert.NotNil(t, c.DatapointWrite)
	assert.NotNil(t, c.Blink)
	assert.NotNil(t, c.BlinkAll)
	assert.NotNil(t, c.Output)
	assert.NotNil(t, c.Export)
	assert.NotNil(t, c.ActionTableDownload)
	assert.NotNil(t, c.ActionTableUpload)
	assert.NotNil(t, c.MsActionTable)
}
