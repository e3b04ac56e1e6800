// Package discord adapts a single Discord channel to the agent loop's
// Channel contract via the gateway.
package discord

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/aeon/internal/channels"
	"github.com/nextlevelbuilder/aeon/internal/config"
)

const maxMessageLen = 2000

// Channel connects one Discord text channel to the agent loop via the
// gateway. Only messages from allow-listed authors in the bound channel
// are delivered; the bound channel is the first one a message arrives in.
type Channel struct {
	channels.NopConfirm
	channels.NopStatus

	session   *discordgo.Session
	allowFrom map[string]bool
	botUserID string

	inbox chan channels.Inbound

	mu           sync.Mutex
	channelID    string
	haveChannel  bool
	pendingChunk strings.Builder
}

// New creates a Discord channel from config. The gateway connection opens
// once Start is called.
func New(cfg config.DiscordConfig) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	allow := map[string]bool{}
	for _, id := range cfg.AllowFrom {
		allow[strings.TrimSpace(id)] = true
	}

	return &Channel{
		session:   session,
		allowFrom: allow,
		inbox:     make(chan channels.Inbound, 32),
	}, nil
}

// Start opens the gateway connection and begins receiving events.
func (c *Channel) Start(ctx context.Context) error {
	c.session.AddHandler(c.handleMessage)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("discord: fetch bot identity: %w", err)
	}
	c.botUserID = user.ID
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop() error {
	return c.session.Close()
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}
	if len(c.allowFrom) > 0 && !c.allowFrom[m.Author.ID] {
		return
	}

	c.mu.Lock()
	if !c.haveChannel {
		c.channelID = m.ChannelID
		c.haveChannel = true
	}
	c.mu.Unlock()

	inbound := channels.Inbound{Text: m.Content}
	inbound.Attachments = downloadAttachments(m.Attachments)
	if inbound.Text == "" && len(inbound.Attachments) == 0 {
		return
	}
	c.inbox <- inbound
}

// downloadAttachments fetches each Discord attachment's CDN URL, classing
// it by its declared content type.
func downloadAttachments(atts []*discordgo.MessageAttachment) []channels.Attachment {
	var out []channels.Attachment
	for _, a := range atts {
		resp, err := http.Get(a.URL)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 25*1024*1024))
		resp.Body.Close()
		if err != nil {
			continue
		}
		out = append(out, channels.Attachment{
			Kind:     classifyContentType(a.ContentType),
			Data:     data,
			Filename: a.Filename,
		})
	}
	return out
}

func classifyContentType(contentType string) channels.AttachmentKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return channels.Image
	case strings.HasPrefix(contentType, "audio/"):
		return channels.Audio
	case strings.HasPrefix(contentType, "video/"):
		return channels.Video
	default:
		return channels.File
	}
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
	channelID, ok := c.currentChannelID()
	if !ok {
		return fmt.Errorf("discord: no channel to reply to yet")
	}
	return c.sendChunked(channelID, text)
}

// sendChunked splits content at or below Discord's 2000-character message
// limit, breaking on a newline near the boundary when possible.
func (c *Channel) sendChunked(channelID, content string) error {
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxMessageLen {
			cutAt := maxMessageLen
			if idx := strings.LastIndexByte(content[:maxMessageLen], '\n'); idx > maxMessageLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}
		if _, err := c.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("discord: send message: %w", err)
		}
	}
	return nil
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
	channelID, ok := c.currentChannelID()
	if !ok {
		return nil
	}
	return c.session.ChannelTyping(channelID)
}

func (c *Channel) currentChannelID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID, c.haveChannel
}
