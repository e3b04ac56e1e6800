package agent

import (
	"time"

	"github.com/nextlevelbuilder/aeon/internal/channels"
)

const dropLastQueuedSentinel = "/drop-last-queued"

// queuedTurn is one pending entry in the intake queue: either a single
// inbound message or several merged together within the merge window.
type queuedTurn struct {
	Content     string
	Attachments []channels.Attachment
	QueuedAt    time.Time
}

// intakeQueue implements the bounded, coalescing FIFO message queue
// described by the agent loop's intake contract.
type intakeQueue struct {
	maxSize     int
	mergeWindow time.Duration
	entries     []queuedTurn

	now func() time.Time
}

func newIntakeQueue(maxSize int, mergeWindow time.Duration) *intakeQueue {
	if maxSize <= 0 {
		maxSize = 10
	}
	if mergeWindow <= 0 {
		mergeWindow = 500 * time.Millisecond
	}
	return &intakeQueue{maxSize: maxSize, mergeWindow: mergeWindow, now: time.Now}
}

// Enqueue applies the coalescing rules to one inbound message: a drop
// sentinel pops the tail; a plain-text, no-attachment message arriving
// within the merge window of the last entry merges into it; otherwise it
// becomes a new entry, dropped with a warning if the queue is full.
//
// dropLast is true when msg.Text is the drop sentinel. warned is true
// when a message was dropped for a full queue — callers should log a
// warning in that case.
func (q *intakeQueue) Enqueue(msg channels.Inbound) (dropLast, warned bool) {
	if msg.Text == dropLastQueuedSentinel {
		if len(q.entries) > 0 {
			q.entries = q.entries[:len(q.entries)-1]
		}
		return true, false
	}

	now := q.now()
	if len(q.entries) > 0 {
		last := &q.entries[len(q.entries)-1]
		plain := len(last.Attachments) == 0 && len(msg.Attachments) == 0
		if plain && now.Sub(last.QueuedAt) <= q.mergeWindow {
			last.Content = last.Content + "\n" + msg.Text
			last.QueuedAt = now
			return false, false
		}
	}

	if len(q.entries) >= q.maxSize {
		return false, true
	}

	q.entries = append(q.entries, queuedTurn{
		Content:     msg.Text,
		Attachments: msg.Attachments,
		QueuedAt:    now,
	})
	return false, false
}

// Len returns the number of entries currently queued.
func (q *intakeQueue) Len() int { return len(q.entries) }

// Drain empties the queue and returns its entries in FIFO order.
func (q *intakeQueue) Drain() []queuedTurn {
	entries := q.entries
	q.entries = nil
	return entries
}

// combineTurns concatenates a batch of drained entries into one user turn:
// text newline-joined, attachments concatenated in order.
func combineTurns(entries []queuedTurn) (string, []channels.Attachment) {
	var text string
	var attachments []channels.Attachment
	for i, e := range entries {
		if i > 0 {
			text += "\n"
		}
		text += e.Content
		attachments = append(attachments, e.Attachments...)
	}
	return text, attachments
}
