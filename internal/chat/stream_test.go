package chat

import "testing"

func TestStreamSubscribeReplaysHistoryThenLive(t *testing.T) {
	m := NewStreamManager()
	m.Start(1)
	m.PushLine(1, "line-1")
	m.PushLine(1, "line-2")

	history, ch, unsubscribe := m.Subscribe(1)
	defer unsubscribe()
	if len(history) != 2 || history[0] != "line-1" || history[1] != "line-2" {
		t.Fatalf("expected replayed history, got %v", history)
	}

	m.PushLine(1, "line-3")
	select {
	case got := <-ch:
		if got != "line-3" {
			t.Fatalf("expected line-3, got %q", got)
		}
	default:
		t.Fatal("expected a live line on the subscriber channel")
	}
}

func TestSubscribeAfterEndReturnsNoChannel(t *testing.T) {
	m := NewStreamManager()
	m.Start(1)
	m.PushLine(1, "line-1")
	m.EndTask(1)

	history, ch, unsubscribe := m.Subscribe(1)
	defer unsubscribe()
	if ch != nil {
		t.Fatal("expected no live channel once the stream has ended")
	}
	if len(history) != 2 {
		t.Fatalf("expected history plus the stream_end marker, got %v", history)
	}
}

func TestSubscribeUnknownTaskReturnsEmpty(t *testing.T) {
	m := NewStreamManager()
	history, ch, _ := m.Subscribe(99)
	if history != nil || ch != nil {
		t.Fatalf("expected nothing for an unknown task, got %v %v", history, ch)
	}
}
