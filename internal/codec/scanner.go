package codec

import "log/slog"

// Scanner extracts complete frames from a rolling byte buffer. Bytes are fed
// in with Feed (as they arrive from a net.Conn.Read); Next drains as many
// complete frames as are currently available. Malformed framings (no
// closing '>', zero-length payload) are dropped silently at debug level and
// the buffer is advanced past the broken region — they never block
// extraction of subsequent well-formed frames.
type Scanner struct {
	buf []byte
	log *slog.Logger
}

// NewScanner creates a Scanner. A nil logger uses slog.Default().
func NewScanner(log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{log: log}
}

// Feed appends newly-read bytes to the scanner's rolling buffer.
func (s *Scanner) Feed(data []byte) {
	s.buf = append(s.buf, data...)
}

// Next extracts and decodes the next complete frame, if any. It returns
// (nil, false) when no complete frame remains in the buffer; callers should
// stop looping and wait for more bytes in that case.
func (s *Scanner) Next() (*Telegram, bool) {
	for {
		start := indexByte(s.buf, '<')
		if start < 0 {
			s.buf = s.buf[:0]
			return nil, false
		}
		if start > 0 {
			s.log.Debug("codec: discarding garbage before frame start", "bytes", start)
			s.buf = s.buf[start:]
		}

		end := indexByte(s.buf[1:], '>')
		if end < 0 {
			return nil, false // incomplete frame, wait for more bytes
		}
		end++ // index relative to s.buf

		inner := s.buf[1:end]
		s.buf = s.buf[end+1:]

		if len(inner) == 0 {
			s.log.Debug("codec: dropping empty frame")
			continue
		}

		tg, err := Decode(inner)
		if err != nil {
			s.log.Debug("codec: dropping malformed frame", "error", err)
			continue
		}
		return tg, true
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
