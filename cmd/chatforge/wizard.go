package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// configTemplate is filled by the init wizard. Allow-list and probe chat
// lines are inserted only when the user provided them.
const configHeader = `version: "1"

modules:
  store.file: {}

  history.sqlite: {}

  channel.telegram:
    token: %q
    mode: polling
`

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Interactively create a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := "chatforge.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, remove it first", path)
			}

			var (
				botToken    string
				apiID       string
				apiHash     string
				allowUsers  string
				probeChatID string
			)

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Bot API token").
						Description("From @BotFather.").
						EchoMode(huh.EchoModePassword).
						Validate(required("bot token")).
						Value(&botToken),
					huh.NewInput().
						Title("Telegram api_id").
						Description("From my.telegram.org, for the owner account.").
						Validate(numeric("api_id")).
						Value(&apiID),
					huh.NewInput().
						Title("Telegram api_hash").
						EchoMode(huh.EchoModePassword).
						Validate(required("api_hash")).
						Value(&apiHash),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("Allowed user IDs").
						Description("Comma separated. Empty allows everyone.").
						Validate(numericList).
						Value(&allowUsers),
					huh.NewInput().
						Title("Icon probe chat ID").
						Description("Forum supergroup for icon probing. Empty disables refresh.").
						Validate(optionalNumeric).
						Value(&probeChatID),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}

			content := renderConfig(botToken, apiID, apiHash, allowUsers, probeChatID)
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				return err
			}

			fmt.Printf("Wrote %s.\n", path)
			fmt.Println("Next: authorize the owner session, then run `chatforge start`.")
			return nil
		},
	}
	return cmd
}

func renderConfig(botToken, apiID, apiHash, allowUsers, probeChatID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, configHeader, botToken)
	if users := splitList(allowUsers); len(users) > 0 {
		b.WriteString("    allow_users:\n")
		for _, u := range users {
			fmt.Fprintf(&b, "      - %s\n", u)
		}
	}

	fmt.Fprintf(&b, "\n  owner.mtproto:\n    api_id: %s\n    api_hash: %q\n", apiID, apiHash)

	b.WriteString("\n  assistant:")
	if probeChatID != "" {
		fmt.Fprintf(&b, "\n    probe_chat_id: %s\n", probeChatID)
	} else {
		b.WriteString(" {}\n")
	}

	b.WriteString("\n  scheduler.cron: {}\n")
	return b.String()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func numeric(field string) func(string) error {
	return func(s string) error {
		if _, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
			return fmt.Errorf("%s must be a number", field)
		}
		return nil
	}
}

func optionalNumeric(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return numeric("chat ID")(s)
}

func numericList(s string) error {
	for _, part := range splitList(s) {
		if _, err := strconv.ParseInt(part, 10, 64); err != nil {
			return fmt.Errorf("%q is not a user ID", part)
		}
	}
	return nil
}
