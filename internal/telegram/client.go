// Package telegram adapts the Bot API SDK to the calls the booking flow makes:
// sending, editing, answering callbacks and webhook registration. Callers see
// only the request types in this package, never the SDK's.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	defaultTimeout = 5 * time.Second
)

// APIError is a non-ok Bot API response.
type APIError struct {
	Method      string
	Status      int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Status, e.Description)
}

// StatusCode lets retry.IsTransient classify the failure.
func (e *APIError) StatusCode() int { return e.Status }

// Client calls the Bot API through tgbotapi.
type Client struct {
	bot     *tgbotapi.BotAPI
	hc      *http.Client
	baseURL string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (5s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithBaseURL points the client at another API host, e.g. a local Bot API server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// New constructs a Client for the bot token. Unlike tgbotapi.NewBotAPI it
// does not call getMe, so construction never touches the network.
func New(token string, opts ...Option) *Client {
	c := &Client{
		hc:      &http.Client{Timeout: defaultTimeout},
		baseURL: DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.bot = &tgbotapi.BotAPI{Token: token, Client: c.hc, Buffer: 100}
	c.bot.SetAPIEndpoint(c.baseURL + "/bot%s/%s")
	return c
}

// SendMessage posts a message and returns its id.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (Message, error) {
	chatID, channel := chatTarget(req.ChatID)
	cfg := tgbotapi.NewMessage(chatID, req.Text)
	if channel != "" {
		cfg = tgbotapi.NewMessageToChannel(channel, req.Text)
	}
	if req.ReplyMarkup != nil {
		cfg.ReplyMarkup = replyMarkup(req.ReplyMarkup)
	}

	bot, doer := c.forCall(ctx)
	msg, err := bot.Send(cfg)
	if err != nil {
		return Message{}, c.wrap("sendMessage", doer, err)
	}
	out := Message{MessageID: int64(msg.MessageID)}
	if msg.Chat != nil {
		out.ChatID = msg.Chat.ID
	}
	return out, nil
}

// EditMessageText replaces the text (and keyboard) of an existing message.
func (c *Client) EditMessageText(ctx context.Context, req EditMessageTextRequest) error {
	chatID, channel := chatTarget(req.ChatID)
	cfg := tgbotapi.EditMessageTextConfig{
		BaseEdit: tgbotapi.BaseEdit{
			ChatID:          chatID,
			ChannelUsername: channel,
			MessageID:       int(req.MessageID),
		},
		Text: req.Text,
	}
	if req.ReplyMarkup != nil {
		kb := sdkKeyboard(req.ReplyMarkup)
		cfg.ReplyMarkup = &kb
	}

	bot, doer := c.forCall(ctx)
	if _, err := bot.Request(cfg); err != nil {
		return c.wrap("editMessageText", doer, err)
	}
	return nil
}

// AnswerCallbackQuery shows a private notification to the user who pressed a button.
func (c *Client) AnswerCallbackQuery(ctx context.Context, req AnswerCallbackQueryRequest) error {
	cfg := tgbotapi.NewCallback(req.CallbackQueryID, req.Text)
	cfg.ShowAlert = req.ShowAlert

	bot, doer := c.forCall(ctx)
	if _, err := bot.Request(cfg); err != nil {
		return c.wrap("answerCallbackQuery", doer, err)
	}
	return nil
}

// SetWebhook registers the webhook URL and its secret token. The SDK's
// WebhookConfig has no secret_token field, so the call goes through
// MakeRequest with the parameters spelled out.
func (c *Client) SetWebhook(ctx context.Context, req SetWebhookRequest) error {
	params := tgbotapi.Params{}
	params.AddNonEmpty("url", req.URL)
	params.AddNonEmpty("secret_token", req.SecretToken)
	params.AddBool("drop_pending_updates", req.DropPending)
	if len(req.AllowedUpdates) > 0 {
		if err := params.AddInterface("allowed_updates", req.AllowedUpdates); err != nil {
			return fmt.Errorf("encode allowed_updates: %w", err)
		}
	}

	bot, doer := c.forCall(ctx)
	if _, err := bot.MakeRequest("setWebhook", params); err != nil {
		return c.wrap("setWebhook", doer, err)
	}
	return nil
}

// forCall returns a copy of the bot whose requests carry ctx. tgbotapi builds
// requests without a context, so cancellation is attached in the doer.
func (c *Client) forCall(ctx context.Context) (*tgbotapi.BotAPI, *ctxDoer) {
	doer := &ctxDoer{ctx: ctx, hc: c.hc}
	bot := *c.bot
	bot.Client = doer
	return &bot, doer
}

type ctxDoer struct {
	ctx    context.Context
	hc     *http.Client
	status int
}

func (d *ctxDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.hc.Do(req.WithContext(d.ctx))
	if resp != nil {
		d.status = resp.StatusCode
	}
	return resp, err
}

func (c *Client) wrap(method string, doer *ctxDoer, err error) error {
	var sdkErr *tgbotapi.Error
	if errors.As(err, &sdkErr) {
		apiErr := &APIError{Method: method, Status: sdkErr.Code, Description: sdkErr.Message}
		if apiErr.Status == 0 {
			apiErr.Status = doer.status
		}
		if sdkErr.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(sdkErr.RetryAfter) * time.Second
		}
		return apiErr
	}
	if doer.status != 0 && doer.status != http.StatusOK {
		// the body was not a Bot API envelope, e.g. a proxy error page
		return &APIError{Method: method, Status: doer.status, Description: "undecodable response"}
	}
	// the request URL embeds the token; keep it out of error strings
	return fmt.Errorf("telegram %s: %w", method, redact(err, c.bot.Token))
}

// chatTarget splits a chat reference into a numeric id or an @channel name.
func chatTarget(ref string) (int64, string) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return id, ""
	}
	return 0, ref
}

// replyMarkup converts the keyboard for sendMessage. The SDK release predates
// web_app buttons, so keyboards carrying one are sent as our own JSON shape.
func replyMarkup(m *InlineKeyboardMarkup) interface{} {
	for _, row := range m.InlineKeyboard {
		for _, b := range row {
			if b.WebApp != nil {
				return m
			}
		}
	}
	return sdkKeyboard(m)
}

func sdkKeyboard(m *InlineKeyboardMarkup) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(m.InlineKeyboard))
	for _, row := range m.InlineKeyboard {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.CallbackData))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

type redactedError struct {
	msg string
	err error
}

func (r *redactedError) Error() string { return r.msg }
func (r *redactedError) Unwrap() error { return r.err }

func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}
