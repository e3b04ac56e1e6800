// Package agent implements the agent loop: the state machine that drives
// a single conversation from incoming channel events to a terminal
// assistant response, through zero or more LLM↔tool iterations.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/aeon/internal/channels"
	"github.com/nextlevelbuilder/aeon/internal/memory"
	"github.com/nextlevelbuilder/aeon/internal/providers"
	"github.com/nextlevelbuilder/aeon/internal/tools"
	"github.com/nextlevelbuilder/aeon/internal/tools/filter"
)

// State is one node of the loop's Idle→Receiving→Generating→ToolDispatch
// state machine.
type State int

const (
	StateIdle State = iota
	StateReceiving
	StateGenerating
	StateToolDispatch
	StateHalted
)

// Config bundles the thresholds spec.md assigns defaults to; zero values
// are replaced by those defaults in NewLoop.
type Config struct {
	MaxToolIterations    int
	ContextWindow        int
	ContextBudgetPct     float64
	LLMTimeoutSeconds    int
	MaxQueueSize         int
	MessageMergeWindowMs int
	MaxAudioBytes        int64
	MaxImageBytes        int64
	DoomLoopWindow       int
	SystemPrompt         string
}

func (c Config) withDefaults() Config {
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = 10
	}
	if c.ContextBudgetPct <= 0 {
		c.ContextBudgetPct = 0.80
	}
	if c.LLMTimeoutSeconds <= 0 {
		c.LLMTimeoutSeconds = 120
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 10
	}
	if c.MessageMergeWindowMs <= 0 {
		c.MessageMergeWindowMs = 500
	}
	if c.MaxAudioBytes <= 0 {
		c.MaxAudioBytes = 25 * 1024 * 1024
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = 20 * 1024 * 1024
	}
	if c.DoomLoopWindow <= 0 {
		c.DoomLoopWindow = 3
	}
	return c
}

// Loop drives one conversation. It owns its Channel exclusively for the
// life of the run.
type Loop struct {
	ConversationID string
	Provider       providers.Provider
	Channel        channels.Channel
	Tools          *tools.Registry
	Dispatcher     *tools.Dispatcher
	Memory         *memory.Semantic
	Filter         *filter.Pipeline
	Transcriber    Transcriber
	Log            *slog.Logger

	Cfg Config

	state State
	queue *intakeQueue
}

func NewLoop(conversationID string, provider providers.Provider, channel channels.Channel, registry *tools.Registry, dispatcher *tools.Dispatcher, mem *memory.Semantic, cfg Config) *Loop {
	cfg = cfg.withDefaults()
	return &Loop{
		ConversationID: conversationID,
		Provider:       provider,
		Channel:        channel,
		Tools:          registry,
		Dispatcher:     dispatcher,
		Memory:         mem,
		Cfg:            cfg,
		state:          StateIdle,
		queue:          newIntakeQueue(cfg.MaxQueueSize, time.Duration(cfg.MessageMergeWindowMs)*time.Millisecond),
	}
}

func (l *Loop) log() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

// Run blocks, draining the channel one coalesced turn at a time, until the
// channel closes or ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.state = StateIdle
		msg, ok, err := l.Channel.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.state = StateHalted
				return nil
			}
			return fmt.Errorf("agent: channel recv: %w", err)
		}
		if !ok {
			l.state = StateHalted
			return nil
		}

		l.state = StateReceiving
		if dropped, warned := l.queue.Enqueue(msg); dropped || warned {
			if warned {
				l.log().Warn("agent: intake queue full, dropping message")
			}
			continue
		}

		// Drain whatever else is immediately available (messages that
		// arrived while this one was being handled) before starting the turn.
		for {
			next, ok, err := l.Channel.TryRecv(ctx)
			if err != nil || !ok {
				break
			}
			l.queue.Enqueue(next)
		}

		entries := l.queue.Drain()
		text, attachments := combineTurns(entries)
		if text == "" && len(attachments) == 0 {
			continue
		}

		if err := l.processTurn(ctx, text, attachments); err != nil {
			if isFatalChannelErr(err) {
				l.state = StateHalted
				return err
			}
			l.log().Error("agent: turn failed", "error", err)
		}
	}
}

// fatalErr marks an error as a channel-send failure, which the loop
// propagates as fatal rather than recovering from.
type fatalErr struct{ err error }

func (e *fatalErr) Error() string { return e.err.Error() }
func (e *fatalErr) Unwrap() error { return e.err }

func isFatalChannelErr(err error) bool {
	_, ok := err.(*fatalErr)
	return ok
}

// processTurn resolves attachments, persists the user message, and runs
// process_response: the LLM↔tool iteration cycle.
func (l *Loop) processTurn(ctx context.Context, text string, attachments []channels.Attachment) error {
	if transcribed := transcribeAudio(ctx, l.Transcriber, attachments, l.Cfg.MaxAudioBytes); transcribed != "" {
		if text != "" {
			text = transcribed + "\n" + text
		} else {
			text = transcribed
		}
	}
	images := loadImages(attachments, l.Cfg.MaxImageBytes)

	if _, err := l.Memory.Remember(ctx, l.ConversationID, memory.Message{
		ConversationID: l.ConversationID,
		Role:           "user",
		Content:        text,
	}); err != nil {
		return fmt.Errorf("agent: persist user message: %w", err)
	}

	return l.processResponse(ctx, text, images)
}

// processResponse is one cycle of LLM call → optional tool call → result
// injection, repeated up to Cfg.MaxToolIterations.
func (l *Loop) processResponse(ctx context.Context, userText string, images []providers.ImageContent) error {
	history, err := l.loadHistory(ctx, 0)
	if err != nil {
		return fmt.Errorf("agent: load history: %w", err)
	}
	messages := l.buildMessages(ctx, l.Cfg.SystemPrompt, history, userText, images)

	var lastToolOutputs []string

	for iteration := 0; iteration < l.Cfg.MaxToolIterations; iteration++ {
		budget := l.Cfg.ContextWindow
		if budget > 0 && float64(estimatedPromptTokens(messages)) >= l.Cfg.ContextBudgetPct*float64(budget) {
			return l.sendFatal(ctx, "Stopping: context window is nearly full.")
		}

		if err := l.Channel.SendTyping(ctx); err != nil {
			l.log().Warn("agent: send typing failed", "error", err)
		}

		l.state = StateGenerating
		resp, err := l.generate(ctx, messages)
		if err != nil {
			l.log().Error("agent: generation failed", "error", err)
			return l.sendFatal(ctx, "Something went wrong, please try again.")
		}

		if resp.Content == "" && len(resp.ToolCalls) == 0 {
			resp, err = l.generate(ctx, messages) // one self-reflection retry
			if err != nil || (resp.Content == "" && len(resp.ToolCalls) == 0) {
				return l.sendFatal(ctx, "I wasn't able to produce a response, please try again.")
			}
		}

		sanitized := SanitizeAssistantContent(resp.Content)
		if _, err := l.Memory.Remember(ctx, l.ConversationID, memory.Message{
			ConversationID: l.ConversationID,
			Role:           "assistant",
			Content:        sanitized,
		}); err != nil {
			return fmt.Errorf("agent: persist assistant message: %w", err)
		}
		messages = append(messages, providers.Message{Role: "assistant", Content: sanitized, ToolCalls: resp.ToolCalls})

		invocations := l.extractInvocations(resp, sanitized)
		if len(invocations) == 0 {
			if !IsSilentReply(sanitized) && sanitized != "" && !l.Provider.SupportsStreaming() {
				if err := l.Channel.Send(ctx, sanitized); err != nil {
					return &fatalErr{err}
				}
			}
			break
		}

		l.state = StateToolDispatch
		for _, inv := range invocations {
			result := l.Dispatcher.Dispatch(ctx, inv)
			output := result.ForLLM
			if l.Filter != nil {
				if cmd, _ := inv.Arguments["command"].(string); cmd != "" {
					output = l.Filter.Run(cmd, output).Text
				}
			}

			lastToolOutputs = append(lastToolOutputs, output)
			if len(lastToolOutputs) > l.Cfg.DoomLoopWindow {
				lastToolOutputs = lastToolOutputs[len(lastToolOutputs)-l.Cfg.DoomLoopWindow:]
			}
			if doomLooping(lastToolOutputs, l.Cfg.DoomLoopWindow) {
				return l.sendFatal(ctx, "Stopping: the same tool output repeated, I may be stuck.")
			}

			formatted := tools.FormatToolOutput(inv.Name, output)
			if _, err := l.Memory.Remember(ctx, l.ConversationID, memory.Message{
				ConversationID: l.ConversationID,
				Role:           "user",
				Content:        formatted,
			}); err != nil {
				return fmt.Errorf("agent: persist tool output: %w", err)
			}
			messages = append(messages, providers.Message{Role: "user", Content: formatted})
		}

		if _, err := l.Memory.MaybeSummarize(ctx, l.ConversationID, l.summarize); err != nil {
			l.log().Warn("agent: summarization failed", "error", err)
		}
	}

	return nil
}

// generate invokes the provider under Cfg.LLMTimeoutSeconds, streaming
// through the channel when the provider supports it.
func (l *Loop) generate(ctx context.Context, messages []providers.Message) (*providers.ChatResponse, error) {
	genCtx, cancel := context.WithTimeout(ctx, time.Duration(l.Cfg.LLMTimeoutSeconds)*time.Second)
	defer cancel()

	req := providers.ChatRequest{Messages: messages, Tools: l.Tools.ProviderDefs()}

	if l.Provider.SupportsStreaming() {
		resp, err := l.Provider.ChatStream(genCtx, req, func(chunk providers.StreamChunk) {
			if chunk.Content != "" {
				if sendErr := l.Channel.SendChunk(ctx, chunk.Content); sendErr != nil {
					l.log().Warn("agent: send chunk failed", "error", sendErr)
				}
			}
		})
		if err != nil {
			return nil, err
		}
		if flushErr := l.Channel.FlushChunks(ctx); flushErr != nil {
			l.log().Warn("agent: flush chunks failed", "error", flushErr)
		}
		return resp, nil
	}

	return l.Provider.Chat(genCtx, req)
}

// summarize satisfies memory.SummaryRequest: it asks the provider for a
// concise, fact-preserving summary of a run of messages.
func (l *Loop) summarize(ctx context.Context, msgs []memory.Message) (string, error) {
	var body string
	for _, m := range msgs {
		body += fmt.Sprintf("%s: %s\n", m.Role, m.Content)
	}
	req := providers.ChatRequest{Messages: []providers.Message{
		{Role: "system", Content: "Summarize the following conversation excerpt concisely, preserving all facts, decisions, and open threads."},
		{Role: "user", Content: body},
	}}
	resp, err := l.Provider.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// extractInvocations prefers the provider's structured tool calls and
// falls back to fenced-block extraction only when the provider emitted
// none.
func (l *Loop) extractInvocations(resp *providers.ChatResponse, sanitized string) []tools.ToolInvocation {
	if len(resp.ToolCalls) > 0 {
		out := make([]tools.ToolInvocation, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			out = append(out, tools.ToolInvocation{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		return out
	}
	blocks := tools.ExtractFencedBlocks(sanitized)
	return tools.FromFencedBlocks(blocks)
}

// doomLooping reports whether the last window tool outputs are all
// identical by string equality.
func doomLooping(outputs []string, window int) bool {
	if len(outputs) < window {
		return false
	}
	first := outputs[len(outputs)-window]
	for _, o := range outputs[len(outputs)-window:] {
		if o != first {
			return false
		}
	}
	return true
}

// sendFatal sends a user-visible notice and halts the current turn
// (not the loop itself, which continues to the next Recv).
func (l *Loop) sendFatal(ctx context.Context, notice string) error {
	if err := l.Channel.Send(ctx, notice); err != nil {
		return &fatalErr{err}
	}
	return nil
}

func toMemoryMessages(messages []providers.Message) []memory.Message {
	out := make([]memory.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, memory.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
