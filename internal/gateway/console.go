package gateway

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"Pikol/internal/router"
)

// ConsoleChannelID is the only channel the console serves.
const ConsoleChannelID = "console"

// Console is a gateway over a terminal: every line read is a message in one
// channel, and replies are printed back.
type Console struct {
	in     io.Reader
	out    io.Writer
	author string

	mu    sync.Mutex
	ready chan struct{}
}

// NewConsole creates a Console reading from in and writing to out. author is
// the speaker name attached to every line.
func NewConsole(in io.Reader, out io.Writer, author string) *Console {
	if author == "" {
		author = "User"
	}
	return &Console{in: in, out: out, author: author, ready: make(chan struct{})}
}

// Ready is closed as soon as Run starts.
func (c *Console) Ready() <-chan struct{} {
	return c.ready
}

// Run reads lines until EOF, ctx cancellation or /quit. Lines are handled one
// at a time.
func (c *Console) Run(ctx context.Context, h Handler) error {
	close(c.ready)

	c.printf("=== Pikol ===\n")
	c.printf("Type !start_rp to wake Pikol, !help for commands, /quit to exit\n\n")

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	ch := c.Channel(ConsoleChannelID)
	for {
		c.printf("%s: ", c.author)
		select {
		case <-ctx.Done():
			c.printf("\n")
			return ctx.Err()
		case err := <-errc:
			c.printf("\nGoodbye!\n")
			return err
		case line := <-lines:
			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}
			if input == "/quit" || input == "/exit" {
				c.printf("Goodbye!\n")
				return nil
			}
			h.HandleMessage(ctx, router.Message{
				ChannelID:  ConsoleChannelID,
				AuthorID:   c.author,
				AuthorName: c.author,
				Content:    input,
			}, ch)
		}
	}
}

// Channel returns the console channel. Every ID maps onto the same terminal.
func (c *Console) Channel(string) router.Channel {
	return consoleChannel{c: c}
}

// Notify prints text.
func (c *Console) Notify(_ context.Context, _ string, text string) error {
	c.printf("\nPikol: %s\n\n", text)
	return nil
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

type consoleChannel struct {
	c *Console
}

func (ch consoleChannel) Send(ctx context.Context, text string) error {
	return ch.c.Notify(ctx, ConsoleChannelID, text)
}

func (ch consoleChannel) SendTyping(context.Context) error {
	return nil
}
