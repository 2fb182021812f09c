package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/comanda/chatsync/internal/outfmt"
)

// errQuit ends `chatsync run` cleanly from the console.
var errQuit = errors.New("quit")

const consoleHelp = `Commands:
  /list             conversations, most recent first
  /open <name|id>   open a conversation and show its history
  /status           connection, bot and sync state
  /retry            resend the last failed message
  /connect          reconnect to the gateway
  /bot on|off       enable or disable auto-replies
  /optin            toggle auto-replies for the open conversation
  /help             this text
  /quit             exit
Anything else is sent to the open conversation.
`

// console reads operator commands line by line.
type console struct {
	s  *session
	r  *reporter
	in io.Reader

	// sends tracks in-flight sends so quitting waits for their outcome.
	sends sync.WaitGroup
}

func newConsole(s *session, r *reporter, in io.Reader) *console {
	return &console{s: s, r: r, in: in}
}

func (c *console) run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.r.printf("Type /help for commands.\n")
	for {
		select {
		case <-ctx.Done():
			c.sends.Wait()
			return nil
		case err := <-readErr:
			c.sends.Wait()
			if err != nil {
				return fmt.Errorf("read console: %w", err)
			}
			return errQuit
		case line := <-lines:
			if err := c.exec(ctx, strings.TrimSpace(line)); err != nil {
				if errors.Is(err, errQuit) {
					c.sends.Wait()
					return errQuit
				}
				c.r.reportError(err)
			}
		}
	}
}

func (c *console) exec(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.send(ctx, line)
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "list", "ls":
		c.list()
	case "open", "o":
		if arg == "" {
			return fmt.Errorf("usage: /open <name|id>")
		}
		return openConversation(ctx, c.s, c.r, arg)
	case "status":
		c.status()
	case "retry":
		return c.retry(ctx)
	case "connect":
		return c.connect(ctx)
	case "bot":
		return c.bot(arg)
	case "optin":
		return c.optIn()
	case "help", "h", "?":
		c.r.printf("%s", consoleHelp)
	case "quit", "q", "exit":
		return errQuit
	default:
		if s := suggestConsoleCommand(name); s != "" {
			return fmt.Errorf("unknown command /%s, did you mean /%s? (type /help)", name, s)
		}
		return fmt.Errorf("unknown command /%s (type /help)", name)
	}
	return nil
}

// send posts text to the open conversation without blocking the console.
func (c *console) send(ctx context.Context, text string) error {
	id := c.s.engine.ActiveConversation()
	if id == "" {
		return fmt.Errorf("no conversation open (use /open <name>)")
	}
	c.sends.Add(1)
	go func() {
		defer c.sends.Done()
		msg, err := c.s.engine.SendMessage(ctx, id, text)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.r.reportError(err)
			return
		}
		c.r.printf("[%s] me: %s\n", formatMillis(msg.Timestamp), msg.Body)
	}()
	return nil
}

func (c *console) list() {
	snap := c.s.engine.Snapshot()
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	f := outfmt.NewFormatter(context.Background(), c.r.out, c.r.errOut)
	if len(snap.Conversations) == 0 {
		f.Empty("No conversations loaded yet")
		return
	}
	f.StartTable([]string{"", "NAME", "UNREAD", "LAST MESSAGE"})
	for _, conv := range snap.Conversations {
		marker := ""
		if conv.ID == snap.ActiveID {
			marker = ">"
		}
		f.Row(marker, conversationName(conv), fmt.Sprintf("%d", conv.UnreadCount), truncate(conv.LastMessageSummary, 50))
	}
	_ = f.EndTable()
}

func (c *console) status() {
	snap := c.s.engine.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "Gateway:   %s (%s)\n", c.s.gw.State(), c.s.creds.GatewayURL)
	if info := c.s.gw.ClientInfo(); info != nil {
		fmt.Fprintf(&b, "Phone:     %s %s\n", orDash(info.Name), orDash(info.Phone))
	}
	fmt.Fprintf(&b, "Connected: %t\n", snap.Connected)
	fmt.Fprintf(&b, "Open:      %s\n", orDash(snap.ActiveID))
	if p := c.s.engine.PollingConversation(); p != "" {
		fmt.Fprintf(&b, "Polling:   %s\n", p)
	}
	if snap.Sending > 0 {
		fmt.Fprintf(&b, "Sending:   %d\n", snap.Sending)
	}
	if c.s.gate != nil {
		fmt.Fprintf(&b, "Bot:       enabled=%t in_hours=%t opted_in=%d\n",
			c.s.gate.Enabled(), c.s.gate.InBusinessHours(), len(c.s.gate.OptInList()))
	}
	if snap.Err != nil {
		fmt.Fprintf(&b, "Error:     %s\n", snap.Err)
	}
	c.r.printf("%s", b.String())
}

func (c *console) retry(ctx context.Context) error {
	id := c.s.engine.ActiveConversation()
	if id == "" {
		return fmt.Errorf("no conversation open")
	}
	pending := c.s.engine.Provisional(id)
	for i := len(pending) - 1; i >= 0; i-- {
		if !pending[i].Failed {
			continue
		}
		localID := pending[i].ID
		c.sends.Add(1)
		go func() {
			defer c.sends.Done()
			msg, err := c.s.engine.RetryFailed(ctx, id, localID)
			if err != nil && !errors.Is(err, context.Canceled) {
				c.r.reportError(err)
				return
			}
			if err == nil {
				c.r.printf("[%s] me: %s\n", formatMillis(msg.Timestamp), msg.Body)
			}
		}()
		return nil
	}
	return fmt.Errorf("no failed message to retry")
}

func (c *console) connect(ctx context.Context) error {
	if c.s.gw.IsConnected() {
		c.r.printf("Already connected.\n")
		return nil
	}
	c.s.engine.ClearError()
	opCtx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()
	if err := c.s.gw.Initialize(opCtx); err != nil {
		return fmt.Errorf("connect to %s: %w", c.s.creds.GatewayURL, err)
	}
	return nil
}

func (c *console) bot(arg string) error {
	if c.s.gate == nil {
		return fmt.Errorf("bot is not running (started with --no-bot)")
	}
	switch strings.ToLower(arg) {
	case "on":
		c.s.gate.SetEnabled(true)
	case "off":
		c.s.gate.SetEnabled(false)
	case "":
	default:
		return fmt.Errorf("usage: /bot on|off")
	}
	c.r.printf("Bot %s\n", onOff(c.s.gate.Enabled()))
	return nil
}

func (c *console) optIn() error {
	if c.s.gate == nil {
		return fmt.Errorf("bot is not running (started with --no-bot)")
	}
	id := c.s.engine.ActiveConversation()
	if id == "" {
		return fmt.Errorf("no conversation open")
	}
	c.r.printf("Auto-replies for %s: %s\n", id, onOff(c.s.gate.ToggleForConversation(id)))
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (r *reporter) reportError(err error) {
	if r.jsonl {
		r.emit(map[string]any{"type": "error", "error": err.Error()})
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprint(r.errOut, HandleError(err))
}

