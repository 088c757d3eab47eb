package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/taxiroutes/internal/auth"
	"github.com/example/taxiroutes/internal/config"
)

func run(t *testing.T, cmdArgs []string, cfg config.Config) (string, error) {
	t.Helper()
	root := newRootCmd()
	root.ResetCommands()
	load := func() config.Config { return cfg }
	root.AddCommand(newMigrateCmd(load), newWebhookCmd(load), newTokenCmd(load))

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(cmdArgs)
	err := root.Execute()
	return out.String(), err
}

func TestIssueToken(t *testing.T) {
	out, err := run(t, []string{"issue-token", "--subject", "ops"}, config.Config{JWTSecret: "s3cret"})
	require.NoError(t, err)

	claims, err := auth.Parse("s3cret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, auth.RoleDispatcher, claims.Role)
}

func TestIssueTokenWithoutSecret(t *testing.T) {
	_, err := run(t, []string{"issue-token"}, config.Config{})
	require.Error(t, err)
}

func TestSetWebhook(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/setWebhook"))
		assert.NoError(t, r.ParseForm())
		got = r.PostForm
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	defer srv.Close()

	cfg := config.Config{BotToken: "123:abc", WebhookSecret: "hook", TelegramAPIURL: srv.URL}
	out, err := run(t, []string{"set-webhook", "--url", "https://bot.example.com/telegram/webhook"}, cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "webhook set")
	assert.Equal(t, "https://bot.example.com/telegram/webhook", got.Get("url"))
	assert.Equal(t, "hook", got.Get("secret_token"))
	var allowed []string
	require.NoError(t, json.Unmarshal([]byte(got.Get("allowed_updates")), &allowed))
	assert.ElementsMatch(t, []string{"message", "callback_query", "my_chat_member"}, allowed)
}

func TestSetWebhookRejectsPlainHTTP(t *testing.T) {
	_, err := run(t, []string{"set-webhook", "--url", "http://bot.example.com"}, config.Config{BotToken: "1:a"})
	require.Error(t, err)
}

func TestMigrateNeedsDSN(t *testing.T) {
	_, err := run(t, []string{"migrate"}, config.Config{})
	require.ErrorContains(t, err, "no database")
}
