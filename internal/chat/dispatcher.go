package chat

import (
	"context"
	"log/slog"
	"time"
)

// MessageSink is the durability + broadcast side of a chat turn: record
// inbound/outbound messages and fan out the bot's reply to live
// subscribers. internal/store and internal/pipeline's Event channel back
// this in production; tests can substitute a fake.
type MessageSink interface {
	RecordMessage(chatKey, transport, direction, content string) error
	BroadcastReply(chatKey, content string)
}

// Dispatcher ties the collector's batching state machine to the session
// router: a timer calls FlushExpired, and every batch it yields is sent
// to the router for a conversational agent turn.
type Dispatcher struct {
	Collector *Collector
	Router    *SessionRouter
	Sink      MessageSink
	Transport string
	FlushEvery time.Duration
}

// Run drains expired collector windows on a fixed tick until ctx is
// cancelled. It never blocks the tick on an agent turn: each batch is
// dispatched on its own goroutine, bounded by the collector's
// max_chat_agents gate (CanDispatch/MarkDispatched).
func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.FlushEvery
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, batch := range d.Collector.FlushExpired() {
				d.dispatch(ctx, batch)
			}
		}
	}
}

// Dispatch immediately hands a freshly-produced batch (from Process) to
// the router, honoring the global chat-agent concurrency gate.
func (d *Dispatcher) Dispatch(ctx context.Context, batch MessageBatch) {
	d.dispatch(ctx, batch)
}

func (d *Dispatcher) dispatch(ctx context.Context, batch MessageBatch) {
	if !d.Collector.CanDispatch() {
		return
	}
	d.Collector.MarkDispatched()

	go func() {
		defer d.Collector.MarkDone(batch.ChatKey)

		for _, m := range batch.Messages {
			if err := d.Sink.RecordMessage(batch.ChatKey, d.Transport, "inbound", m.Text); err != nil {
				slog.Warn("chat: record inbound message failed", "chat_key", batch.ChatKey, "error", err)
			}
		}

		sender := ""
		if len(batch.Messages) > 0 {
			sender = batch.Messages[0].SenderName
		}
		reply, err := d.Router.Dispatch(ctx, batch, sender, nil)
		if err != nil {
			slog.Warn("chat: dispatch failed", "chat_key", batch.ChatKey, "error", err)
			return
		}

		if err := d.Sink.RecordMessage(batch.ChatKey, d.Transport, "outbound", reply); err != nil {
			slog.Warn("chat: record outbound message failed", "chat_key", batch.ChatKey, "error", err)
		}
		d.Sink.BroadcastReply(batch.ChatKey, reply)
	}()
}
