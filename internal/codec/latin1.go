package codec

import "strings"

// Latin1ToDisplay converts raw wire bytes (Latin-1, one byte per code point)
// into a Go string for display/logging purposes only. It must never be used
// on the receive path in place of the raw []byte — decoding through UTF-8
// would corrupt any byte in 0x80-0xFF (e.g. the 0xA7 '§' unit marker used in
// VOLTAGE/LIGHT_LEVEL replies), which spec calls out as a defect to avoid.
func Latin1ToDisplay(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		b.WriteRune(rune(c))
	}
	return b.String()
}

// Latin1FromDisplay is the inverse of Latin1ToDisplay: it maps each rune
// back to its single Latin-1 byte. Runes outside 0x00-0xFF cannot appear on
// the wire and are replaced with '?'.
func Latin1FromDisplay(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			out = append(out, '?')
			continue
		}
		out = append(out, byte(r))
	}
	return out
}
