package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"github.com/example/taxiroutes/internal/booking/claim"
	"github.com/example/taxiroutes/internal/telegram"
)

const callbackUpdate = `{
  "update_id": 10,
  "callback_query": {
    "id": "cbq-1",
    "from": {"id": 555, "first_name": "Aziz", "username": "aziz_taxi"},
    "message": {"message_id": 77, "chat": {"id": -1001, "type": "supergroup"}},
    "data": "take|7b0c7a3e-8d1c-4f5b-9a55-1f3f4b2c9d10"
  }
}`

type stubClaims struct {
	mu     sync.Mutex
	events []claim.Event
}

func (s *stubClaims) HandleClaim(_ context.Context, ev claim.Event) (claim.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return claim.OutcomeClaimed, nil
}

type stubSender struct {
	mu   sync.Mutex
	sent []telegram.SendMessageRequest
}

func (s *stubSender) SendMessage(_ context.Context, req telegram.SendMessageRequest) (telegram.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return telegram.Message{MessageID: 1}, nil
}

func TestParseCallbackBecomesClaimEvent(t *testing.T) {
	ev, err := Parse([]byte(callbackUpdate))
	require.NoError(t, err)
	ce, ok := ev.(ClaimEvent)
	require.True(t, ok)
	require.Equal(t, "cbq-1", ce.CallbackID)
	require.Equal(t, "555", ce.ClaimantID)
	require.Equal(t, "@aziz_taxi", ce.ClaimantName)
	require.Equal(t, "-1001", ce.ChatID)
	require.EqualValues(t, 77, ce.MessageID)
	require.True(t, strings.HasPrefix(ce.Data, "take|"))
}

func TestParseShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		kind string
	}{
		{"start command", `{"update_id":1,"message":{"message_id":1,"chat":{"id":42,"type":"private"},"text":"/start"}}`, "command"},
		{"app command with bot suffix", `{"update_id":1,"message":{"message_id":1,"chat":{"id":-5,"type":"group"},"text":"/app@TaxiBot"}}`, "command"},
		{"command entity", `{"update_id":1,"message":{"message_id":1,"chat":{"id":-5,"type":"group"},"text":"/start@TaxiBot go","entities":[{"type":"bot_command","offset":0,"length":14}]}}`, "command"},
		{"message without chat", `{"update_id":1,"message":{"message_id":1,"text":"/start"}}`, "unknown"},
		{"callback without from", `{"update_id":1,"callback_query":{"id":"x","data":"take|x"}}`, "unknown"},
		{"plain text", `{"update_id":1,"message":{"message_id":1,"chat":{"id":42},"text":"hello"}}`, "unknown"},
		{"membership", `{"update_id":1,"my_chat_member":{"chat":{"id":-5},"from":{"id":1},"new_chat_member":{"status":"administrator","user":{"id":9}}}}`, "membership"},
		{"callback without sender", `{"update_id":1,"callback_query":{"id":"x","from":{"id":0},"data":"take|x"}}`, "unknown"},
		{"empty object", `{}`, "unknown"},
		{"wrong field types", `{"update_id":1,"message":"text"}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Parse([]byte(tc.body))
			if tc.kind == "" {
				require.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.kind, ev.Kind())
		})
	}
}

func TestDisplayNameFallbacks(t *testing.T) {
	require.Equal(t, "@bek", DisplayName(&tgbotapi.User{UserName: "bek", FirstName: "Bek"}))
	require.Equal(t, "Bek", DisplayName(&tgbotapi.User{FirstName: " Bek "}))
	require.Equal(t, "driver", DisplayName(&tgbotapi.User{}))
	require.Equal(t, "driver", DisplayName(nil))
}

func TestParseCommandEntityStripsBotName(t *testing.T) {
	ev, err := Parse([]byte(`{"update_id":3,"message":{"message_id":1,"chat":{"id":-5,"type":"group"},"text":"/app@TaxiBot","entities":[{"type":"bot_command","offset":0,"length":12}]}}`))
	require.NoError(t, err)
	ce, ok := ev.(CommandEvent)
	require.True(t, ok)
	require.Equal(t, CommandApp, ce.Command)
	require.Equal(t, "group", ce.ChatType)
}

func newTestHandler(claims ClaimHandler, sender *stubSender) *Handler {
	return NewHandler("s3cret", claims, NewGreeter(sender, "https://app.example"), nil, 0)
}

func post(h http.Handler, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRejectsBadSecretBeforeParsing(t *testing.T) {
	claims := &stubClaims{}
	h := newTestHandler(claims, &stubSender{})

	require.Equal(t, http.StatusUnauthorized, post(h, "", callbackUpdate).Code)
	require.Equal(t, http.StatusUnauthorized, post(h, "wrong", callbackUpdate).Code)
	require.Equal(t, http.StatusUnauthorized, post(h, "wrong", "not json").Code)
	require.Empty(t, claims.events)
}

func TestHandlerRoutesClaimAndAcknowledges(t *testing.T) {
	claims := &stubClaims{}
	h := newTestHandler(claims, &stubSender{})

	rec := post(h, "s3cret", callbackUpdate)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	require.Len(t, claims.events, 1)
	require.Equal(t, "555", claims.events[0].ClaimantID)
}

func TestHandlerMalformedBodyIs400(t *testing.T) {
	h := newTestHandler(&stubClaims{}, &stubSender{})
	require.Equal(t, http.StatusBadRequest, post(h, "s3cret", "{oops").Code)
}

func TestHandlerUnknownUpdateStillOK(t *testing.T) {
	sender := &stubSender{}
	h := newTestHandler(&stubClaims{}, sender)
	rec := post(h, "s3cret", `{"update_id":3,"edited_message":{"message_id":1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, sender.sent)
}

func TestHandlerCommandsAndMembership(t *testing.T) {
	sender := &stubSender{}
	h := newTestHandler(&stubClaims{}, sender)

	require.Equal(t, http.StatusOK, post(h, "s3cret", `{"update_id":1,"message":{"message_id":1,"chat":{"id":42,"type":"private"},"text":"/start"}}`).Code)
	require.Equal(t, http.StatusOK, post(h, "s3cret", `{"update_id":2,"message":{"message_id":2,"chat":{"id":-7,"type":"group"},"text":"/app"}}`).Code)
	require.Equal(t, http.StatusOK, post(h, "s3cret", `{"update_id":3,"my_chat_member":{"chat":{"id":-8},"from":{"id":1},"new_chat_member":{"status":"member","user":{"id":9}}}}`).Code)
	require.Equal(t, http.StatusOK, post(h, "s3cret", `{"update_id":4,"my_chat_member":{"chat":{"id":-9},"from":{"id":1},"new_chat_member":{"status":"left","user":{"id":9}}}}`).Code)

	require.Len(t, sender.sent, 3)
	require.Equal(t, "42", sender.sent[0].ChatID)
	require.Equal(t, "https://app.example", sender.sent[0].ReplyMarkup.InlineKeyboard[0][0].WebApp.URL)
	require.Equal(t, "-7", sender.sent[1].ChatID)
	require.Equal(t, "https://app.example", sender.sent[1].ReplyMarkup.InlineKeyboard[0][0].URL)
	require.Equal(t, "-8", sender.sent[2].ChatID)
}
