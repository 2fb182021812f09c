package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/comanda/chatsync/internal/chat"
	"github.com/comanda/chatsync/internal/resolve"
)

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv", "c"},
		Short:   "List and find conversations",
	}
	cmd.AddCommand(newConversationsListCmd())
	cmd.AddCommand(newConversationsFindCmd())
	return cmd
}

func newConversationsListCmd() *cobra.Command {
	var (
		refresh    bool
		unreadOnly bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations, newest first",
		Example: `  chatsync conversations list
  chatsync conversations list --unread
  chatsync conversations list --jq '.items[] | select(.isGroup) | .displayName'`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			convs, err := loadConversations(cmd, refresh)
			if err != nil {
				return err
			}
			if unreadOnly {
				convs = filterUnread(convs)
			}
			return printConversations(cmd, convs)
		}),
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore the cache and ask the gateway")
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "Only conversations with unread messages")
	return cmd
}

func newConversationsFindCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "find <name>",
		Short: "Fuzzy-find conversations by name or number",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			convs, err := loadConversations(cmd, false)
			if err != nil {
				return err
			}
			matches := resolve.FuzzyMatchAll(args[0], resolve.Conversations(convs), limit)
			if isJSON(cmd) {
				return printJSON(cmd, matches)
			}
			f := newTextFormatter(cmd)
			if len(matches) == 0 {
				f.Empty(fmt.Sprintf("No conversation matches %q", args[0]))
				return nil
			}
			f.StartTable([]string{"ID", "NAME", "SCORE"})
			for _, m := range matches {
				f.Row(m.ID, m.Name, strconv.Itoa(m.Score))
			}
			return f.EndTable()
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "Maximum number of matches")
	return cmd
}

// loadConversations connects, loads the list (cache first unless refresh)
// and disconnects.
func loadConversations(cmd *cobra.Command, refresh bool) ([]chat.Conversation, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	s, err := openSession(settings, logger(cmd), sessionOptions{})
	if err != nil {
		return nil, err
	}
	defer s.close()
	s.start()

	ctx, cancel := withTimeout(cmd)
	defer cancel()
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	if refresh {
		return s.engine.RefreshConversations(ctx)
	}
	return s.engine.LoadConversations(ctx)
}

func filterUnread(convs []chat.Conversation) []chat.Conversation {
	out := make([]chat.Conversation, 0, len(convs))
	for _, c := range convs {
		if c.UnreadCount > 0 {
			out = append(out, c)
		}
	}
	return out
}

func printConversations(cmd *cobra.Command, convs []chat.Conversation) error {
	if isJSON(cmd) {
		return printJSON(cmd, convs)
	}
	f := newTextFormatter(cmd)
	if len(convs) == 0 {
		f.Empty("No conversations")
		return nil
	}
	f.StartTable([]string{"ID", "NAME", "UNREAD", "UPDATED", "LAST MESSAGE"})
	for _, c := range convs {
		name := c.DisplayName
		if c.IsGroup {
			name += " (group)"
		}
		f.Row(c.ID, name, strconv.Itoa(c.UnreadCount), formatMillis(c.UpdatedAt), truncate(c.LastMessageSummary, 40))
	}
	return f.EndTable()
}
