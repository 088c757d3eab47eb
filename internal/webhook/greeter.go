package webhook

import (
	"context"
	"strconv"

	"github.com/example/taxiroutes/internal/notify"
	"github.com/example/taxiroutes/internal/telegram"
)

const (
	welcomeText = "Hello and welcome! 😊\n" +
		"Here you can find taxis to the districts and cargo vehicles in Nukus.\n" +
		"Press START ⏬"
	promoText = "Taxi 🚕 services are right here!\n" +
		"Quick and easy rides between the districts of Karakalpakstan.\n" +
		"No need to join groups, everything is in one bot ✅"
)

// Greeter answers commands and membership changes with the mini app entry points.
type Greeter struct {
	sender     notify.Sender
	miniAppURL string
}

func NewGreeter(sender notify.Sender, miniAppURL string) *Greeter {
	return &Greeter{sender: sender, miniAppURL: miniAppURL}
}

// Welcome sends the private greeting with a web app button.
func (g *Greeter) Welcome(ctx context.Context, chatID int64) error {
	req := telegram.SendMessageRequest{ChatID: strconv.FormatInt(chatID, 10), Text: welcomeText}
	if g.miniAppURL != "" {
		req.ReplyMarkup = &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: "🚕 START", WebApp: &telegram.WebAppInfo{URL: g.miniAppURL}}},
		}}
	}
	_, err := g.sender.SendMessage(ctx, req)
	return err
}

// Promo posts the group advert. Group chats only accept URL buttons.
func (g *Greeter) Promo(ctx context.Context, chatID int64) error {
	req := telegram.SendMessageRequest{ChatID: strconv.FormatInt(chatID, 10), Text: promoText}
	if g.miniAppURL != "" {
		req.ReplyMarkup = &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: "🚕 TAXI", URL: g.miniAppURL}},
		}}
	}
	_, err := g.sender.SendMessage(ctx, req)
	return err
}
