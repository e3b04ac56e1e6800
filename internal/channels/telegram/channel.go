// Package telegram adapts a single Telegram chat to the agent loop's
// Channel contract via long polling.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/aeon/internal/channels"
	"github.com/nextlevelbuilder/aeon/internal/config"
)

// maxDownloadBytes bounds attachment downloads from the Bot API's file
// endpoint; the agent loop's own size checks apply on top of this.
const maxDownloadBytes = 25 * 1024 * 1024

// Channel connects one allow-listed Telegram chat to the agent loop using
// the Bot API's long-polling update stream.
type Channel struct {
	channels.NopConfirm

	bot       *telego.Bot
	token     string
	allowFrom map[int64]bool

	inbox chan channels.Inbound

	mu           sync.Mutex
	chatID       int64
	haveChatID   bool
	pendingChunk strings.Builder

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Telegram channel from config. The bot begins polling once
// Start is called.
func New(cfg config.TelegramConfig) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}

	allow := map[int64]bool{}
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allow[id] = true
		}
	}

	return &Channel{
		bot:       bot,
		token:     cfg.Token,
		allowFrom: allow,
		inbox:     make(chan channels.Inbound, 32),
	}, nil
}

// Start begins long polling for updates in the background. Call once
// before the agent loop's first Recv.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: start long polling: %w", err)
	}

	go func() {
		defer close(c.done)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				c.handleUpdate(update)
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the polling goroutine to exit.
func (c *Channel) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
}

func (c *Channel) handleUpdate(update telego.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	if len(c.allowFrom) > 0 && !c.allowFrom[msg.From.ID] {
		return
	}

	c.mu.Lock()
	if !c.haveChatID {
		c.chatID = msg.Chat.ID
		c.haveChatID = true
	}
	c.mu.Unlock()

	inbound := channels.Inbound{Text: msg.Text}
	inbound.Attachments = append(inbound.Attachments, c.downloadAttachments(msg)...)
	if inbound.Text == "" && len(inbound.Attachments) == 0 {
		return
	}
	c.inbox <- inbound
}

// downloadAttachments resolves a Telegram message's photo/voice/document
// fields into Attachments via the bot's file-download endpoint.
func (c *Channel) downloadAttachments(msg *telego.Message) []channels.Attachment {
	var out []channels.Attachment
	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		if data, err := c.downloadFile(largest.FileID); err == nil {
			out = append(out, channels.Attachment{Kind: channels.Image, Data: data, Filename: largest.FileID + ".jpg"})
		}
	case msg.Voice != nil:
		if data, err := c.downloadFile(msg.Voice.FileID); err == nil {
			out = append(out, channels.Attachment{Kind: channels.Audio, Data: data, Filename: msg.Voice.FileID + ".ogg"})
		}
	case msg.Document != nil:
		if data, err := c.downloadFile(msg.Document.FileID); err == nil {
			out = append(out, channels.Attachment{Kind: channels.File, Data: data, Filename: msg.Document.FileName})
		}
	}
	return out
}

func (c *Channel) downloadFile(fileID string) ([]byte, error) {
	file, err := c.bot.GetFile(context.Background(), &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("telegram: get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("telegram: file has no path")
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.token, file.FilePath)
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("telegram: download file: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
}

func (c *Channel) Recv(ctx context.Context) (channels.Inbound, bool, error) {
	select {
	case msg, ok := <-c.inbox:
		return msg, ok, nil
	case <-ctx.Done():
		return channels.Inbound{}, false, ctx.Err()
	}
}

func (c *Channel) TryRecv(ctx context.Context) (channels.Inbound, bool, error) {
	select {
	case msg, ok := <-c.inbox:
		return msg, ok, nil
	default:
		return channels.Inbound{}, false, nil
	}
}

func (c *Channel) Send(ctx context.Context, text string) error {
	chatID, ok := c.currentChatID()
	if !ok {
		return fmt.Errorf("telegram: no chat to reply to yet")
	}
	_, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	return err
}

func (c *Channel) SendChunk(ctx context.Context, chunk string) error {
	c.mu.Lock()
	c.pendingChunk.WriteString(chunk)
	c.mu.Unlock()
	return nil
}

func (c *Channel) FlushChunks(ctx context.Context) error {
	c.mu.Lock()
	text := c.pendingChunk.String()
	c.pendingChunk.Reset()
	c.mu.Unlock()
	if text == "" {
		return nil
	}
	return c.Send(ctx, text)
}

func (c *Channel) SendTyping(ctx context.Context) error {
	chatID, ok := c.currentChatID()
	if !ok {
		return nil
	}
	return c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))
}

func (c *Channel) SendStatus(ctx context.Context, status string) error {
	return nil
}

func (c *Channel) currentChatID() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID, c.haveChatID
}
