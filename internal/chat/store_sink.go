package chat

import (
	"hash/fnv"

	"github.com/andywolf/borg/internal/security"
)

// TaskStreamer is the subset of StreamManager a MessageSink needs:
// broadcasting a chat reply reuses the same ring-buffer fan-out that
// pipeline task output uses, since both are "push lines to whoever is
// watching this conversation" in the end.
type TaskStreamer interface {
	EnsureStarted(taskID int64)
	PushLine(taskID int64, line string)
}

// ChatRecorder persists chat messages; internal/store.Store satisfies
// this directly.
type ChatRecorder interface {
	RecordChatMessage(chatID, transport, content string) error
}

// StoreSink implements MessageSink against the durable task store and the
// stream manager's fan-out, the way production builds wire a Dispatcher.
type StoreSink struct {
	DB       ChatRecorder
	Streams  TaskStreamer
	Scrubber *security.Scrubber
}

// NewStoreSink builds a StoreSink with its scrubber initialized; callers
// may still construct StoreSink{} literally but should set Scrubber
// themselves to avoid a nil check on every message.
func NewStoreSink(db ChatRecorder, streams TaskStreamer) *StoreSink {
	return &StoreSink{DB: db, Streams: streams, Scrubber: security.NewScrubber()}
}

// RecordMessage persists one chat turn (inbound or outbound), scrubbing
// any credential-shaped substrings an agent might have echoed back.
func (s *StoreSink) RecordMessage(chatKey, transport, direction, content string) error {
	return s.DB.RecordChatMessage(chatKey, transport, s.scrub(content))
}

// BroadcastReply fans the bot's reply out to whoever is subscribed to
// this chat key's stream, identified by a stable hash since the
// underlying fan-out primitive is keyed by int64.
func (s *StoreSink) BroadcastReply(chatKey, content string) {
	id := chatStreamID(chatKey)
	s.Streams.EnsureStarted(id)
	s.Streams.PushLine(id, s.scrub(content))
}

func (s *StoreSink) scrub(content string) string {
	if s.Scrubber == nil {
		return content
	}
	return s.Scrubber.Scrub(content)
}

func chatStreamID(chatKey string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(chatKey))
	return int64(h.Sum64())
}
