package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutputStateScenarioB(t *testing.T) {
	v, err := Parse(DPOutputState, "xxxx1110")
	require.NoError(t, err)
	state := v.Parsed.(OutputState)
	assert.Equal(t, [4]bool{false, true, true, true}, state.Outputs)
}

func TestParseOutputStateInvalidBit(t *testing.T) {
	_, err := Parse(DPOutputState, "xxxx111x")
	assert.Error(t, err)
}

func TestParseLightLevel(t *testing.T) {
	v, err := Parse(DPLightLevel, "01:050%,02:100%")
	require.NoError(t, err)
	levels := v.Parsed.([]LightLevel)
	require.Len(t, levels, 2)
	assert.Equal(t, LightLevel{Channel: 1, Percent: 50}, levels[0])
	assert.Equal(t, LightLevel{Channel: 2, Percent: 100}, levels[1])
}

func TestParseVoltage(t *testing.T) {
	raw := "+31,5" + string([]byte{0xA7}) + "C"
	v, err := Parse(DPVoltage, raw)
	require.NoError(t, err)
	assert.InDelta(t, 31.5, v.Parsed.(float64), 0.001)
	assert.Equal(t, string([]byte{0xA7})+"C", v.Unit)
}

func TestParseModuleErrorCodeHealthy(t *testing.T) {
	v, err := Parse(DPModuleErrorCode, "00")
	require.NoError(t, err)
	assert.Equal(t, uint8(0), v.Parsed)
}

func TestParseModuleErrorCodeFault(t *testing.T) {
	v, err := Parse(DPModuleErrorCode, "FE")
	require.NoError(t, err)
	assert.Equal(t, uint8(0xFE), v.Parsed)
}

func TestModuleTypeLookup(t *testing.T) {
	mt, ok := Lookup(33)
	require.True(t, ok)
	assert.Equal(t, "XP20", mt.Name)
	assert.Equal(t, CategoryRelay, mt.Category)
}

func TestModuleTypeUnknownCode(t *testing.T) {
	assert.Equal(t, "UNKNOWN(999)", Name(999))
}

func TestActionStringRoundTrip(t *testing.T) {
	a, ok := ActionByName("TURNON")
	require.True(t, ok)
	assert.Equal(t, ActionTurnOn, a)
	assert.Equal(t, "TURNON", a.String())
}
