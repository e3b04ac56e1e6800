// Package channels defines the transport-agnostic contract the agent loop
// drives, plus concrete adapters (Telegram, Discord, CLI).
package channels

import "context"

// AttachmentKind classifies an inbound/outbound attachment's media type.
type AttachmentKind int

const (
	Audio AttachmentKind = iota
	Image
	Video
	File
)

// Attachment is a piece of binary media carried alongside a message.
type Attachment struct {
	Kind     AttachmentKind
	Data     []byte
	Filename string
}

// Inbound is one message received from a channel, with any attachments.
type Inbound struct {
	Text        string
	Attachments []Attachment
}

// Channel is the contract the agent loop drives. The loop owns a Channel
// exclusively for the duration of a session: it never constructs one
// itself, it is handed one by the caller (cmd/).
type Channel interface {
	// Recv blocks until a message arrives or the channel closes, in which
	// case ok is false.
	Recv(ctx context.Context) (msg Inbound, ok bool, err error)
	// TryRecv returns immediately; ok is false if nothing is queued.
	TryRecv(ctx context.Context) (msg Inbound, ok bool, err error)
	// Send delivers a complete message.
	Send(ctx context.Context, text string) error
	// SendChunk forwards one streaming partial; Send is not called for a
	// streamed turn, only SendChunk followed by FlushChunks.
	SendChunk(ctx context.Context, chunk string) error
	// FlushChunks finalizes a streamed turn after the last SendChunk.
	FlushChunks(ctx context.Context) error
	// SendTyping shows a typing/working indicator. Default no-op.
	SendTyping(ctx context.Context) error
	// SendStatus surfaces a short status string (e.g. "running tool: bash").
	// Default no-op.
	SendStatus(ctx context.Context, status string) error
	// Confirm asks a yes/no question for Supervised-autonomy tool gating.
	// Channels with no interactive confirmation UI auto-confirm.
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// NopConfirm is embedded by channels with no interactive confirmation
// surface; it auto-confirms every prompt, matching the contract's stated
// default.
type NopConfirm struct{}

func (NopConfirm) Confirm(ctx context.Context, prompt string) (bool, error) { return true, nil }

// NopStatus is embedded by channels that don't surface typing/status
// indicators.
type NopStatus struct{}

func (NopStatus) SendTyping(ctx context.Context) error            { return nil }
func (NopStatus) SendStatus(ctx context.Context, status string) error { return nil }
