package busproto

import "github.com/conbus/xp/internal/codec"

// ConnectionMadeEvent carries no data; it marks a successful TCP connect.
type ConnectionMadeEvent struct{}

// TelegramSentEvent is emitted after a queued frame's transport write
// completes (spec §4.3: "emitted after the transport write completes").
type TelegramSentEvent struct {
	Frame []byte
}

// TelegramReceivedEvent carries one fully-decoded inbound telegram.
type TelegramReceivedEvent struct {
	Telegram *codec.Telegram
}

// TimeoutEvent marks the rolling inactivity timer firing.
type TimeoutEvent struct{}

// FailureKind classifies why a FailedEvent was emitted (spec §4.3 failure
// taxonomy).
type FailureKind int

const (
	FailureConnectionFailed FailureKind = iota
	FailureConnectionLost
)

// FailedEvent is the user-facing translation of a connection failure.
type FailedEvent struct {
	Kind    FailureKind
	Message string
}
