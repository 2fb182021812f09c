package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/comanda/chatsync/internal/dryrun"
	"github.com/comanda/chatsync/internal/syncengine"
	"github.com/comanda/chatsync/internal/validation"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <conversation> <text...>",
		Short: "Send a text message",
		Example: `  chatsync send "Mesa 4" "Su pedido sale en 10 minutos"
  chatsync send 5511999990000@c.us Gracias`,
		Args: cobra.MinimumNArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
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

			if done, err := previewSend(cmd, s, id, text); done || err != nil {
				return err
			}

			updates := s.engine.Subscribe(16)
			defer updates.Close()
			msg, err := s.engine.SendMessage(ctx, id, text)
			if err != nil {
				return err
			}
			waitReconciled(ctx, s.engine, updates.C, id)

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"conversationId": id, "message": msg})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s\n", id)
			return nil
		}),
	}
	return cmd
}

// previewSend handles --dry-run after the target has been resolved, so the
// preview shows the conversation the message would really go to.
func previewSend(cmd *cobra.Command, s *session, id, text string) (bool, error) {
	if !dryrun.IsEnabled(cmd.Context()) {
		return false, nil
	}
	if strings.TrimSpace(text) == "" {
		return true, fmt.Errorf("send: %w", syncengine.ErrEmptyMessage)
	}
	if err := validation.ValidateMessageText(text); err != nil {
		return true, fmt.Errorf("send: %w", err)
	}

	preview := &dryrun.Preview{Operation: "send to", Target: id, Description: "Text message"}
	known := false
	for _, c := range s.engine.Snapshot().Conversations {
		if c.ID == id {
			preview.Target = conversationName(c)
			known = true
			break
		}
	}
	preview.Add("conversation", id).Add("text", truncate(text, 60)).Add("bytes", len(text))
	if !known {
		preview.Warn("conversation is not in the list; the ID is used as is")
	}
	return maybeDryRun(cmd, preview)
}

// waitReconciled waits until the acknowledged message has been replaced by
// the gateway's copy, so the refreshed window reaches the cache before the
// process exits. It gives up silently when ctx ends.
func waitReconciled(ctx context.Context, e *syncengine.Engine, updates <-chan syncengine.Update, id string) {
	for hasPending(e, id) {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
		}
	}
}

func hasPending(e *syncengine.Engine, id string) bool {
	for _, m := range e.Provisional(id) {
		if m.Pending {
			return true
		}
	}
	return false
}
