package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/comanda/chatsync/internal/chat"
	"github.com/comanda/chatsync/internal/cli"
	"github.com/comanda/chatsync/internal/resolve"
)

func newMessagesCmd() *cobra.Command {
	var (
		limit int
		since string
	)
	cmd := &cobra.Command{
		Use:     "messages <conversation>",
		Aliases: []string{"msgs", "m"},
		Short:   "Show the recent history of a conversation",
		Long: strings.TrimSpace(`
Show the newest messages of a conversation, oldest first.

The conversation can be given by ID, display name, or any fuzzy part of
either. Cached history is used while it is fresh.
`),
		Example: `  chatsync messages "Mesa 4"
  chatsync messages 5511999990000@c.us --limit 10 -o json
  chatsync messages "Delivery Centro" --since 18:00`,
		Args: cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			var sinceMillis int64
			if since != "" {
				t, err := cli.ParseSince(since, time.Now())
				if err != nil {
					return fmt.Errorf("invalid argument for --since: %w", err)
				}
				sinceMillis = t.UnixMilli()
			}
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			s, err := openSession(settings, logger(cmd), sessionOptions{})
			if err != nil {
				return err
			}
			defer s.close()
			s.start()

			ctx, cancel := withTimeout(cmd)
			defer cancel()
			if err := s.connect(ctx); err != nil {
				return err
			}
			id, err := resolveConversation(ctx, s, args[0])
			if err != nil {
				return err
			}
			if err := s.engine.SelectConversation(ctx, id); err != nil {
				return err
			}

			msgs := s.engine.Messages(id)
			if sinceMillis > 0 {
				msgs = slices.DeleteFunc(msgs, func(m chat.Message) bool { return m.Timestamp < sinceMillis })
			}
			if limit > 0 && len(msgs) > limit {
				msgs = msgs[len(msgs)-limit:]
			}
			return printMessages(cmd, msgs)
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Show only the newest N messages (0 = whole window)")
	cmd.Flags().StringVar(&since, "since", "", "Only messages at or after this time (2h, 18:00, yesterday, monday, 2026-01-28)")
	return cmd
}

// resolveConversation maps a name or ID to a conversation ID using the
// conversation list. An ID-shaped query the list does not know is used as
// is, so new chats can be addressed.
func resolveConversation(ctx context.Context, s *session, query string) (string, error) {
	convs, err := s.engine.LoadConversations(ctx)
	if err != nil {
		return "", err
	}
	id, err := resolve.Conversation(query, convs)
	if err == nil {
		return id, nil
	}
	var ambiguous *resolve.AmbiguousError
	if !errors.As(err, &ambiguous) && looksLikeChatID(query) {
		return strings.TrimSpace(query), nil
	}
	return "", err
}

func looksLikeChatID(s string) bool {
	return strings.Contains(s, "@") && !strings.ContainsAny(strings.TrimSpace(s), " \t")
}

func printMessages(cmd *cobra.Command, msgs []chat.Message) error {
	if isJSON(cmd) {
		return printJSON(cmd, msgs)
	}
	f := newTextFormatter(cmd)
	if len(msgs) == 0 {
		f.Empty("No messages")
		return nil
	}
	f.StartTable([]string{"TIME", "FROM", "MESSAGE", "STATE"})
	for _, m := range msgs {
		f.Row(formatMillis(m.Timestamp), sender(m), truncate(m.Summary(), 60), messageState(m))
	}
	return f.EndTable()
}

func sender(m chat.Message) string {
	if m.FromMe {
		return "me"
	}
	return "them"
}

func messageState(m chat.Message) string {
	switch {
	case m.Failed:
		return "failed"
	case m.Pending:
		return "sending"
	default:
		return ""
	}
}
