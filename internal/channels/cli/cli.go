// Package cli implements a stdin/stdout Channel for local development and
// tests, grounded on the teacher's interactive REPL (cmd/agent_chat_standalone.go).
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/aeon/internal/channels"
)

// Channel reads lines from stdin and writes responses to stdout. Streaming
// chunks are buffered and flushed as one line, since a terminal has no
// incremental-edit surface.
type Channel struct {
	channels.NopConfirm
	channels.NopStatus

	scanner *bufio.Scanner
	out     *bufio.Writer

	mu      sync.Mutex
	pending strings.Builder

	inbox chan channels.Inbound
	once  sync.Once
}

func New() *Channel {
	c := &Channel{
		scanner: bufio.NewScanner(os.Stdin),
		out:     bufio.NewWriter(os.Stdout),
		inbox:   make(chan channels.Inbound),
	}
	return c
}

// start reads stdin lines on a background goroutine, feeding c.inbox. It is
// started lazily on first Recv/TryRecv call.
func (c *Channel) start() {
	c.once.Do(func() {
		go func() {
			defer close(c.inbox)
			for c.scanner.Scan() {
				line := strings.TrimSpace(c.scanner.Text())
				if line == "" {
					continue
				}
				c.inbox <- channels.Inbound{Text: line}
			}
		}()
	})
}

func (c *Channel) Recv(ctx context.Context) (channels.Inbound, bool, error) {
	c.start()
	select {
	case msg, ok := <-c.inbox:
		return msg, ok, nil
	case <-ctx.Done():
		return channels.Inbound{}, false, ctx.Err()
	}
}

func (c *Channel) TryRecv(ctx context.Context) (channels.Inbound, bool, error) {
	c.start()
	select {
	case msg, ok := <-c.inbox:
		return msg, ok, nil
	default:
		return channels.Inbound{}, false, nil
	}
}

func (c *Channel) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s\n", text)
	return c.out.Flush()
}

func (c *Channel) SendChunk(ctx context.Context, chunk string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.WriteString(chunk)
	return nil
}

func (c *Channel) FlushChunks(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending.Len() == 0 {
		return nil
	}
	fmt.Fprintf(c.out, "%s\n", c.pending.String())
	c.pending.Reset()
	return c.out.Flush()
}
