package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/taxiroutes/internal/booking/domain"
	"github.com/example/taxiroutes/internal/telegram"
)

const timestampLayout = "2006-01-02 15:04"

// Formatter renders booking messages for each channel. Timestamps are shown
// in the configured local zone.
type Formatter struct {
	loc *time.Location
}

// NewFormatter falls back to UTC when loc is nil.
func NewFormatter(loc *time.Location) Formatter {
	if loc == nil {
		loc = time.UTC
	}
	return Formatter{loc: loc}
}

// Owner is the informational message for the owner channel. It carries the
// full phone and the booking id for tracking.
func (f Formatter) Owner(b domain.Booking) string {
	requester := b.RequesterHandle
	if requester == "" {
		requester = "unknown"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔔 New booking #%s\n\n", b.ID)
	fmt.Fprintf(&sb, "📍 Route: %s → %s\n", b.FromCity, b.ToCity)
	sb.WriteString(tripLine(b) + "\n")
	fmt.Fprintf(&sb, "📞 Phone: %s\n", b.Phone)
	fmt.Fprintf(&sb, "👤 Requester: %s\n", requester)
	fmt.Fprintf(&sb, "🕐 Time: %s", f.stamp(b.CreatedAt))
	return sb.String()
}

// Driver is the broadcast message for the driver group. The phone is masked
// until a driver claims the booking.
func (f Formatter) Driver(b domain.Booking) string {
	var sb strings.Builder
	sb.WriteString("🔔 New booking!\n\n")
	fmt.Fprintf(&sb, "📍 Route: %s → %s\n", b.FromCity, b.ToCity)
	sb.WriteString(tripLine(b) + "\n")
	fmt.Fprintf(&sb, "📞 Phone: %s\n", MaskPhone(b.Phone))
	fmt.Fprintf(&sb, "🕐 Time: %s\n", f.stamp(b.CreatedAt))
	sb.WriteString("⏳ Status: waiting for a driver")
	return sb.String()
}

// Taken replaces the driver message once a claim succeeds.
func (f Formatter) Taken(b domain.Booking, claimant string) string {
	return fmt.Sprintf("✅ Booking taken!\n\n📍 Route: %s → %s\n🚕 Driver: %s", b.FromCity, b.ToCity, claimant)
}

// ClaimKeyboard is the single "take" button attached to the driver message.
func ClaimKeyboard(b domain.Booking) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{{Text: "✅ Take", CallbackData: domain.ClaimToken(b.ID)}},
	}}
}

// MaskPhone keeps a leading '+', the first three and last two digits.
func MaskPhone(phone string) string {
	var digits []rune
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 5 {
		return strings.Repeat("*", len(digits))
	}
	prefix := ""
	if strings.HasPrefix(strings.TrimSpace(phone), "+") {
		prefix = "+"
	}
	masked := string(digits[:3]) + strings.Repeat("*", len(digits)-5) + string(digits[len(digits)-2:])
	return prefix + masked
}

func tripLine(b domain.Booking) string {
	if b.TripType == domain.TripDelivery {
		return "📦 Type: parcel delivery"
	}
	n := 1
	if b.Passengers != nil {
		n = *b.Passengers
	}
	return fmt.Sprintf("🚕 Type: passenger, %d seat(s)", n)
}

func (f Formatter) stamp(t time.Time) string {
	return t.In(f.loc).Format(timestampLayout)
}
