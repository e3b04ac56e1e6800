package agent

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/aeon/internal/channels"
)

func TestIntakeQueue_MergeWithinWindow(t *testing.T) {
	clock := time.Unix(0, 0)
	q := newIntakeQueue(10, 500*time.Millisecond)
	q.now = func() time.Time { return clock }

	if dropLast, warned := q.Enqueue(channels.Inbound{Text: "hello"}); dropLast || warned {
		t.Fatalf("unexpected dropLast=%v warned=%v", dropLast, warned)
	}

	clock = clock.Add(200 * time.Millisecond)
	if dropLast, warned := q.Enqueue(channels.Inbound{Text: "world"}); dropLast || warned {
		t.Fatalf("unexpected dropLast=%v warned=%v", dropLast, warned)
	}

	if got := q.Len(); got != 1 {
		t.Fatalf("expected merged entries to stay a single queue entry, got %d", got)
	}

	entries := q.Drain()
	if len(entries) != 1 {
		t.Fatalf("expected 1 drained entry, got %d", len(entries))
	}
	if want := "hello\nworld"; entries[0].Content != want {
		t.Fatalf("content = %q, want %q", entries[0].Content, want)
	}
}

func TestIntakeQueue_NoMergeAfterWindow(t *testing.T) {
	clock := time.Unix(0, 0)
	q := newIntakeQueue(10, 500*time.Millisecond)
	q.now = func() time.Time { return clock }

	q.Enqueue(channels.Inbound{Text: "first"})
	clock = clock.Add(time.Second)
	q.Enqueue(channels.Inbound{Text: "second"})

	if got := q.Len(); got != 2 {
		t.Fatalf("expected 2 separate entries outside merge window, got %d", got)
	}
}

func TestIntakeQueue_NoMergeWithAttachments(t *testing.T) {
	clock := time.Unix(0, 0)
	q := newIntakeQueue(10, 500*time.Millisecond)
	q.now = func() time.Time { return clock }

	q.Enqueue(channels.Inbound{Text: "first"})
	q.Enqueue(channels.Inbound{Text: "second", Attachments: []channels.Attachment{{Kind: channels.Image}}})

	if got := q.Len(); got != 2 {
		t.Fatalf("expected attachments to suppress merging, got %d entries", got)
	}
}

func TestIntakeQueue_DropSentinelPopsLast(t *testing.T) {
	q := newIntakeQueue(10, 0)
	q.Enqueue(channels.Inbound{Text: "keep me"})
	clock := time.Now().Add(time.Hour)
	q.now = func() time.Time { return clock }
	q.Enqueue(channels.Inbound{Text: "drop me"})

	dropLast, warned := q.Enqueue(channels.Inbound{Text: dropLastQueuedSentinel})
	if !dropLast || warned {
		t.Fatalf("expected dropLast=true warned=false, got dropLast=%v warned=%v", dropLast, warned)
	}
	if got := q.Len(); got != 1 {
		t.Fatalf("expected 1 entry remaining after drop, got %d", got)
	}
}

func TestIntakeQueue_DropSentinelOnEmptyQueueIsNoop(t *testing.T) {
	q := newIntakeQueue(10, 0)
	dropLast, warned := q.Enqueue(channels.Inbound{Text: dropLastQueuedSentinel})
	if !dropLast || warned {
		t.Fatalf("expected dropLast=true warned=false, got dropLast=%v warned=%v", dropLast, warned)
	}
	if got := q.Len(); got != 0 {
		t.Fatalf("expected queue to remain empty, got %d", got)
	}
}

func TestIntakeQueue_WarnsWhenFull(t *testing.T) {
	q := newIntakeQueue(2, 0)
	clock := time.Unix(0, 0)
	q.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		clock = clock.Add(time.Hour)
		if _, warned := q.Enqueue(channels.Inbound{Text: "msg"}); warned {
			t.Fatalf("did not expect warning while under capacity")
		}
	}

	clock = clock.Add(time.Hour)
	dropLast, warned := q.Enqueue(channels.Inbound{Text: "overflow"})
	if dropLast || !warned {
		t.Fatalf("expected dropLast=false warned=true at capacity, got dropLast=%v warned=%v", dropLast, warned)
	}
	if got := q.Len(); got != 2 {
		t.Fatalf("expected queue to stay at max size, got %d", got)
	}
}

func TestCombineTurns(t *testing.T) {
	entries := []queuedTurn{
		{Content: "one", Attachments: []channels.Attachment{{Kind: channels.Image, Filename: "a.png"}}},
		{Content: "two"},
		{Content: "three", Attachments: []channels.Attachment{{Kind: channels.File, Filename: "b.txt"}}},
	}

	text, attachments := combineTurns(entries)

	if want := "one\ntwo\nthree"; text != want {
		t.Fatalf("text = %q, want %q", text, want)
	}
	if len(attachments) != 2 {
		t.Fatalf("expected 2 combined attachments, got %d", len(attachments))
	}
	if attachments[0].Filename != "a.png" || attachments[1].Filename != "b.txt" {
		t.Fatalf("attachments out of order: %+v", attachments)
	}
}

func TestCombineTurns_Empty(t *testing.T) {
	text, attachments := combineTurns(nil)
	if text != "" {
		t.Fatalf("expected empty text, got %q", text)
	}
	if attachments != nil {
		t.Fatalf("expected nil attachments, got %v", attachments)
	}
}
