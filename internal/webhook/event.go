package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/taxiroutes/internal/booking/claim"
)

// ErrMalformed marks a body that is not a JSON update object.
var ErrMalformed = errors.New("malformed update")

// Event is one of ClaimEvent, MembershipEvent, CommandEvent or UnknownEvent.
type Event interface {
	Kind() string
}

type ClaimEvent struct {
	claim.Event
}

// MembershipEvent reports the bot's own membership change in a chat.
type MembershipEvent struct {
	ChatID int64
	Status string
}

// Joined reports whether the bot can now post in the chat.
func (m MembershipEvent) Joined() bool {
	return m.Status == "member" || m.Status == "administrator"
}

type CommandEvent struct {
	ChatID   int64
	ChatType string
	Command  string
}

// UnknownEvent is any well-formed update the service does not act on.
type UnknownEvent struct {
	UpdateID int64
	Reason   string
}

func (ClaimEvent) Kind() string      { return "claim" }
func (MembershipEvent) Kind() string { return "membership" }
func (CommandEvent) Kind() string    { return "command" }
func (UnknownEvent) Kind() string    { return "unknown" }

const (
	CommandStart = "/start"
	CommandApp   = "/app"
)

// Parse decodes a webhook body into a typed event. Only a body that is not a
// JSON object fails; shapes missing required fields become UnknownEvent.
func Parse(body []byte) (Event, error) {
	var upd tgbotapi.Update
	if err := json.Unmarshal(body, &upd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	id := int64(upd.UpdateID)

	switch {
	case upd.CallbackQuery != nil:
		return parseCallback(id, upd.CallbackQuery), nil
	case upd.MyChatMember != nil:
		m := upd.MyChatMember
		if m.Chat.ID == 0 || m.NewChatMember.Status == "" {
			return UnknownEvent{UpdateID: id, Reason: "incomplete membership update"}, nil
		}
		return MembershipEvent{ChatID: m.Chat.ID, Status: m.NewChatMember.Status}, nil
	case upd.Message != nil:
		return parseMessage(id, upd.Message), nil
	default:
		return UnknownEvent{UpdateID: id, Reason: "unsupported update"}, nil
	}
}

func parseCallback(id int64, q *tgbotapi.CallbackQuery) Event {
	if q.ID == "" || q.From == nil || q.From.ID == 0 {
		return UnknownEvent{UpdateID: id, Reason: "incomplete callback query"}
	}
	ev := claim.Event{
		CallbackID:   q.ID,
		Data:         q.Data,
		ClaimantID:   strconv.FormatInt(q.From.ID, 10),
		ClaimantName: DisplayName(q.From),
	}
	if q.Message != nil && q.Message.Chat != nil && q.Message.Chat.ID != 0 {
		ev.ChatID = strconv.FormatInt(q.Message.Chat.ID, 10)
		ev.MessageID = int64(q.Message.MessageID)
	}
	return ClaimEvent{Event: ev}
}

func parseMessage(id int64, msg *tgbotapi.Message) Event {
	if msg.Chat == nil || msg.Chat.ID == 0 {
		return UnknownEvent{UpdateID: id, Reason: "message without chat"}
	}
	cmd := commandOf(msg)
	switch cmd {
	case "":
		return UnknownEvent{UpdateID: id, Reason: "no text"}
	case CommandStart, CommandApp:
		return CommandEvent{ChatID: msg.Chat.ID, ChatType: msg.Chat.Type, Command: cmd}
	default:
		return UnknownEvent{UpdateID: id, Reason: "not a command"}
	}
}

// commandOf prefers the bot_command entity. Some clients and test tools omit
// entities, so a leading "/word" in the text counts too.
func commandOf(msg *tgbotapi.Message) string {
	if msg.IsCommand() {
		return "/" + msg.Command()
	}
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return ""
	}
	// "/start@SomeBot" in groups
	cmd, _, _ := strings.Cut(fields[0], "@")
	return cmd
}

// DisplayName is @username, else first name, else "driver".
func DisplayName(u *tgbotapi.User) string {
	if u == nil {
		return "driver"
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	if name := strings.TrimSpace(u.FirstName); name != "" {
		return name
	}
	return "driver"
}
