package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDiscoverRequest(t *testing.T) {
	tg, err := Decode([]byte("S0000000000F01D00FA"))
	require.NoError(t, err)
	assert.Equal(t, System, tg.Type)
	assert.True(t, tg.ChecksumValid)
	assert.Equal(t, "0000000000", tg.SerialNumber)
	assert.True(t, tg.IsBroadcast())
	assert.Equal(t, "01", tg.SystemFunction)
	assert.Equal(t, "00", tg.DatapointID)
}

func TestDecodeDiscoverReply(t *testing.T) {
	tg, err := Decode([]byte("R0020030837F01DFM"))
	require.NoError(t, err)
	assert.Equal(t, Reply, tg.Type)
	assert.Equal(t, "0020030837", tg.SerialNumber)
	assert.Equal(t, "01", tg.SystemFunction)
	assert.Equal(t, "", tg.DatapointID)
}

func TestDecodeBlinkAck(t *testing.T) {
	tg, err := Decode([]byte("R0020044964F18DFA"))
	require.NoError(t, err)
	assert.Equal(t, "18", tg.SystemFunction)
	assert.Equal(t, "", tg.DatapointID)
	assert.Equal(t, "", tg.DataValue)
}

func TestDecodeOutputStateQuery(t *testing.T) {
	tg, err := Decode([]byte("S0020044966F02D12FB"))
	require.NoError(t, err)
	assert.Equal(t, "02", tg.SystemFunction)
	assert.Equal(t, "12", tg.DatapointID)
}

func TestDecodeEventMake(t *testing.T) {
	tg, err := Decode([]byte("E14L00I02MAK"))
	require.NoError(t, err)
	assert.Equal(t, Event, tg.Type)
	assert.Equal(t, "14", tg.ModuleTypeCode)
	assert.Equal(t, "00", tg.LinkNumber)
	assert.Equal(t, "02", tg.InputNumber)
	assert.Equal(t, Make, tg.EventKind)
	assert.True(t, tg.ChecksumValid)
}

func TestDecodeInvalidChecksumStillSurfaced(t *testing.T) {
	tg, err := Decode([]byte("E14L00I02MZZ"))
	require.NoError(t, err)
	assert.False(t, tg.ChecksumValid)
	assert.Equal(t, "14", tg.ModuleTypeCode)
}

func TestBuildSystemRoundTrip(t *testing.T) {
	tg, err := BuildSystem("0020044966", "02", "12", "")
	require.NoError(t, err)
	// Checksum is the XOR-nibble of "S0020044966F02D12" (type letter included,
	// per the algorithm confirmed against spec's literal <E14L00I02MAK> example).
	require.Equal(t, "<S0020044966F02D12FL>", string(tg.Frame))

	decoded, err := Decode(tg.Frame[1 : len(tg.Frame)-1])
	require.NoError(t, err)
	assert.Equal(t, tg.SerialNumber, decoded.SerialNumber)
	assert.Equal(t, tg.SystemFunction, decoded.SystemFunction)
	assert.Equal(t, tg.DatapointID, decoded.DatapointID)
	assert.True(t, decoded.ChecksumValid)
}

func TestBuildReplyAckRoundTrip(t *testing.T) {
	tg, err := BuildReply("0020044964", "18", "", "")
	require.NoError(t, err)
	assert.Equal(t, "<R0020044964F18DFA>", string(tg.Frame))

	decoded, err := Decode(tg.Frame[1 : len(tg.Frame)-1])
	require.NoError(t, err)
	assert.Equal(t, "18", decoded.SystemFunction)
	assert.Equal(t, "", decoded.DatapointID)
	assert.True(t, decoded.ChecksumValid)
}

func TestBuildEventRoundTrip(t *testing.T) {
	tg, err := BuildEvent(Event, "14", "00", "02", Make)
	require.NoError(t, err)
	assert.Equal(t, "<E14L00I02MAK>", string(tg.Frame))
}

func TestScannerExtractsMultipleFramesWithGarbage(t *testing.T) {
	s := NewScanner(nil)
	s.Feed([]byte("garbage<S0000000000F01D00FA>more-garbage<E14L00I02MAK>"))

	var got []Type
	for {
		tg, ok := s.Next()
		if !ok {
			break
		}
		got = append(got, tg.Type)
	}
	assert.Equal(t, []Type{System, Event}, got)
}

func TestScannerHandlesPartialFrameAcrossFeeds(t *testing.T) {
	s := NewScanner(nil)
	s.Feed([]byte("<S0000000000F01D"))
	_, ok := s.Next()
	assert.False(t, ok, "incomplete frame must not be returned yet")

	s.Feed([]byte("00FA>"))
	tg, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, "0000000000", tg.SerialNumber)
}

func TestScannerDropsEmptyFrame(t *testing.T) {
	s := NewScanner(nil)
	s.Feed([]byte("<><E14L00I02MAK>"))
	tg, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, Event, tg.Type)
	_, ok = s.Next()
	assert.False(t, ok)
}

func TestOutputStateReplyWithLatin1Byte(t *testing.T) {
	// <R0020044966F02D18+31,5§CIE> — 0xA7 '§' must survive untouched.
	raw := []byte{'R', '0', '0', '2', '0', '0', '4', '4', '9', '6', '6', 'F', '0', '2', 'D', '1', '8', '+', '3', '1', ',', '5', 0xA7, 'C'}
	chk := XORNibble(raw)
	inner := append(append([]byte{}, raw...), chk[:]...)

	tg, err := Decode(inner)
	require.NoError(t, err)
	assert.True(t, tg.ChecksumValid)
	assert.Contains(t, tg.DataValue, string([]byte{0xA7}))
}
