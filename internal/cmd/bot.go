package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/comanda/chatsync/internal/bot"
)

func newBotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Inspect the automatic reply rules",
		Long: strings.TrimSpace(`
Inspect the automatic replies without touching the gateway.

Rules come from bot.rules_file, then inline bot.rules in the settings file,
then the built-in set. Replies go out only while 'chatsync run' is active.
`),
	}
	cmd.AddCommand(newBotReplyCmd())
	cmd.AddCommand(newBotRulesCmd())
	cmd.AddCommand(newBotStatusCmd())
	return cmd
}

func newBotReplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "reply <text...>",
		Short:   "Show the reply the bot would send for a message",
		Example: `  chatsync bot reply "¿Cuál es el horario de hoy?"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			rules, err := loadRuleSet(settings)
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			reply, rule := bot.NewResponder(rules).Match(text)

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"message": text, "rule": rule, "reply": reply})
			}
			out := cmd.OutOrStdout()
			if reply == "" {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No rule matches and no default reply is set")
				return nil
			}
			if rule == "" {
				rule = "(default)"
			}
			_, _ = fmt.Fprintf(out, "Rule:  %s\nReply: %s\n", rule, reply)
			return nil
		}),
	}
}

func newBotRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the active reply rules",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			rules, err := loadRuleSet(settings)
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, rules)
			}
			f := newTextFormatter(cmd)
			f.StartTable([]string{"RULE", "KEYWORDS", "REPLY"})
			for _, r := range rules.Rules {
				f.Row(r.Name, strings.Join(r.Keywords, ", "), truncate(r.Reply, 50))
			}
			if rules.Default != "" {
				f.Row("(default)", "", truncate(rules.Default, 50))
			}
			return f.EndTable()
		}),
	}
}

func newBotStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the bot would reply right now",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			gate, _, err := buildBot(settings)
			if err != nil {
				return err
			}
			status := map[string]any{
				"enabled":         gate.Enabled(),
				"optIn":           gate.OptInList(),
				"inBusinessHours": gate.InBusinessHours(),
				"rulesFile":       settings.Bot.RulesFile,
			}
			if isJSON(cmd) {
				return printJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Enabled:           %t\n", gate.Enabled())
			_, _ = fmt.Fprintf(out, "In business hours: %t\n", gate.InBusinessHours())
			optIn := gate.OptInList()
			if len(optIn) == 0 {
				_, _ = fmt.Fprintln(out, "Opted in:          none")
			} else {
				_, _ = fmt.Fprintf(out, "Opted in:          %s\n", strings.Join(optIn, ", "))
			}
			return nil
		}),
	}
}
