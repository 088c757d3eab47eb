package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/taxiroutes/internal/config"
	"github.com/example/taxiroutes/internal/telegram"
)

// allowedUpdates are the update kinds the webhook handler understands.
var allowedUpdates = []string{"message", "callback_query", "my_chat_member"}

func newWebhookCmd(load func() config.Config) *cobra.Command {
	var (
		url         string
		dropPending bool
	)
	cmd := &cobra.Command{
		Use:   "set-webhook",
		Short: "Point the Telegram bot at this service's webhook endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load()
			if cfg.BotToken == "" {
				return errors.New("BOT_TOKEN is not set")
			}
			if !strings.HasPrefix(url, "https://") {
				return fmt.Errorf("webhook url must be https, got %q", url)
			}
			if cfg.WebhookSecret == "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: WEBHOOK_SECRET is empty, the service will reject every update")
			}

			tg := telegram.New(cfg.BotToken, telegram.WithBaseURL(cfg.TelegramAPIURL))
			err := tg.SetWebhook(cmd.Context(), telegram.SetWebhookRequest{
				URL:            url,
				SecretToken:    cfg.WebhookSecret,
				AllowedUpdates: allowedUpdates,
				DropPending:    dropPending,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "webhook set to %s\n", url)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "public https URL of /telegram/webhook")
	cmd.Flags().BoolVar(&dropPending, "drop-pending", false, "discard updates queued while no webhook was set")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
