package chat

import (
	"encoding/json"
	"sync"
)

// maxHistoryLines bounds the replay buffer kept per task stream.
const maxHistoryLines = 10_000

const subscriberBuffer = 512

type taskStream struct {
	mu          sync.Mutex
	subscribers map[int]chan string
	nextSub     int
	history     []string
	ended       bool
}

// StreamManager fans out a running agent phase's raw NDJSON lines to any
// number of live subscribers per task, while keeping a bounded history
// buffer so a late subscriber can replay what it missed.
type StreamManager struct {
	mu      sync.Mutex
	streams map[int64]*taskStream
}

// NewStreamManager builds an empty manager.
func NewStreamManager() *StreamManager {
	return &StreamManager{streams: make(map[int64]*taskStream)}
}

// Start begins (or resets) streaming for taskID.
func (m *StreamManager) Start(taskID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[taskID] = &taskStream{subscribers: make(map[int]chan string)}
}

// EnsureStarted begins streaming for taskID only if it isn't already
// active, leaving an existing stream's history and subscribers intact.
func (m *StreamManager) EnsureStarted(taskID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[taskID]; ok {
		return
	}
	m.streams[taskID] = &taskStream{subscribers: make(map[int]chan string)}
}

// PushLine appends line to taskID's history and forwards it to every
// live subscriber. A subscriber whose channel is full has its line
// dropped rather than blocking the phase's own output drain.
func (m *StreamManager) PushLine(taskID int64, line string) {
	m.withStream(taskID, func(s *taskStream) {
		s.append(line)
	})
}

// PushPhaseResult injects a synthetic phase_result line, mirroring what a
// dashboard-facing SSE client would see between phases.
func (m *StreamManager) PushPhaseResult(taskID int64, phase, content string) {
	payload, _ := json.Marshal(struct {
		Type    string `json:"type"`
		Phase   string `json:"phase"`
		Content string `json:"content"`
	}{Type: "phase_result", Phase: phase, Content: content})
	m.PushLine(taskID, string(payload))
}

// EndTask marks taskID's stream as finished: a final stream_end line is
// broadcast, history is kept for late readers, but no further subscriber
// channel is handed out.
func (m *StreamManager) EndTask(taskID int64) {
	m.withStream(taskID, func(s *taskStream) {
		s.append(`{"type":"stream_end"}`)
		s.ended = true
	})
}

// Subscribe returns the current history snapshot and, unless the stream
// has already ended, a channel of subsequent lines. The caller must drain
// or discard the channel; Unsubscribe releases it.
func (m *StreamManager) Subscribe(taskID int64) (history []string, ch <-chan string, unsubscribe func()) {
	m.mu.Lock()
	s, ok := m.streams[taskID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, func() {}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	historyCopy := append([]string(nil), s.history...)
	if s.ended {
		return historyCopy, nil, func() {}
	}

	id := s.nextSub
	s.nextSub++
	sub := make(chan string, subscriberBuffer)
	s.subscribers[id] = sub
	return historyCopy, sub, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
		close(sub)
	}
}

func (m *StreamManager) withStream(taskID int64, fn func(*taskStream)) {
	m.mu.Lock()
	s, ok := m.streams[taskID]
	m.mu.Unlock()
	if !ok {
		return
	}
	fn(s)
}

func (s *taskStream) append(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, line)
	if len(s.history) > maxHistoryLines {
		s.history = s.history[len(s.history)-maxHistoryLines:]
	}
	for _, sub := range s.subscribers {
		select {
		case sub <- line:
		default:
		}
	}
}
