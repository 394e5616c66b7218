package chat

import "time"

// ChatMessageRecord is a single stored inbound or outbound chat message.
type ChatMessageRecord struct {
	ChatKey   string
	Transport string
	Direction string // "in" | "out"
	Sender    string
	Content   string
	Timestamp time.Time
}
