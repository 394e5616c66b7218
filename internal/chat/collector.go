// Package chat implements the collection-window state machine, the
// per-chat session router, and the task stream fan-out that let a
// chat transport (Telegram, Discord, whatever) drive the same agent
// pipeline the task scheduler does.
package chat

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle of a single chat's collection window.
type State int

const (
	StateIdle State = iota
	// StateCollecting is batching messages until windowDeadline.
	StateCollecting
	// StateRunning means an agent is currently processing this chat's batch.
	StateRunning
	// StateCooldown blocks new dispatches until deadline, so a burst of
	// follow-up messages right after a reply doesn't immediately retrigger.
	StateCooldown
)

type chatEntry struct {
	state    State
	deadline time.Time
	messages []string
}

// IncomingMessage is one message from any transport, keyed by a
// transport-qualified chat id (e.g. "telegram:123456").
type IncomingMessage struct {
	ChatKey         string
	SenderName      string
	Text            string
	Timestamp       time.Time
	ReplyToMessage  string
}

// MessageBatch is a set of collected messages ready to dispatch to an agent.
type MessageBatch struct {
	ChatKey  string
	Messages []string
}

// Collector manages per-chat collection windows, subject to a global
// concurrency cap on running agents. Zero value is not usable; use New.
type Collector struct {
	mu         sync.Mutex
	chats      map[string]*chatEntry
	windowMS   time.Duration
	cooldownMS time.Duration
	maxAgents  int32
	running    atomic.Int32
}

// New builds a Collector. window = 0 dispatches every message immediately
// with no batching; cooldown = 0 disables the post-run cooldown.
func New(window, cooldown time.Duration, maxAgents int) *Collector {
	return &Collector{
		chats:      make(map[string]*chatEntry),
		windowMS:   window,
		cooldownMS: cooldown,
		maxAgents:  int32(maxAgents),
	}
}

// Process folds msg into its chat's state, returning a batch once that
// chat's collection window (or immediate-dispatch with no window) closes.
// A message arriving while the chat is Running or Cooldown is dropped:
// the agent is mid-reply, or we're deliberately quiet right after one.
func (c *Collector) Process(msg IncomingMessage) *MessageBatch {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.chats[msg.ChatKey]
	if !ok {
		e = &chatEntry{state: StateIdle}
		c.chats[msg.ChatKey] = e
	}

	switch e.state {
	case StateRunning, StateCooldown:
		return nil

	case StateIdle:
		if c.windowMS == 0 {
			e.state = StateRunning
			return &MessageBatch{ChatKey: msg.ChatKey, Messages: []string{msg.Text}}
		}
		e.state = StateCollecting
		e.deadline = time.Now().Add(c.windowMS)
		e.messages = []string{msg.Text}
		return nil

	case StateCollecting:
		e.messages = append(e.messages, msg.Text)
		if time.Now().Before(e.deadline) {
			return nil
		}
		batch := &MessageBatch{ChatKey: msg.ChatKey, Messages: e.messages}
		e.state = StateRunning
		e.messages = nil
		return batch
	}
	return nil
}

// FlushExpired scans every chat for a Collecting window whose deadline has
// passed (no further message arrived to trigger Process's own check) and
// for a Cooldown whose deadline has passed, returning any newly-ready
// batches. Call this periodically (the scheduler's own tick cadence is a
// reasonable interval) so a window closes even without new traffic.
func (c *Collector) FlushExpired() []MessageBatch {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var ready []MessageBatch
	for key, e := range c.chats {
		switch e.state {
		case StateCollecting:
			if now.Before(e.deadline) {
				continue
			}
			ready = append(ready, MessageBatch{ChatKey: key, Messages: e.messages})
			e.state = StateRunning
			e.messages = nil
		case StateCooldown:
			if !now.Before(e.deadline) {
				e.state = StateIdle
			}
		}
	}
	return ready
}

// MarkDone transitions a chat out of Running, into Cooldown if configured
// or straight to Idle otherwise, and decrements the running-agent count.
func (c *Collector) MarkDone(chatKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.chats[chatKey]
	if !ok {
		return
	}
	if c.cooldownMS > 0 {
		e.state = StateCooldown
		e.deadline = time.Now().Add(c.cooldownMS)
	} else {
		e.state = StateIdle
	}
	c.running.Add(-1)
}

// CanDispatch reports whether another agent can be started under the
// global concurrency cap.
func (c *Collector) CanDispatch() bool {
	return c.running.Load() < c.maxAgents
}

// MarkDispatched records that a dispatch was started, for CanDispatch's
// accounting; callers must pair this with a later MarkDone.
func (c *Collector) MarkDispatched() {
	c.running.Add(1)
}

// ActiveCount reports the current number of running agents.
func (c *Collector) ActiveCount() int {
	return int(c.running.Load())
}
