// Package config reads service settings from the environment once at
// startup. Components receive the resulting struct through constructors.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BotToken       string
	OwnerChatID    string
	DriverGroupID  string
	WebhookSecret  string
	MiniAppURL     string
	TelegramAPIURL string

	HTTPAddr    string
	PostgresDSN string
	RedisAddr   string
	NATSURL     string

	SubmitCooldown   time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	NotifyTimeout    time.Duration
	CatalogTTL       time.Duration

	CORSAllowedOrigins []string
	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	// Empty means the socket address is the client.
	TrustedProxies []netip.Prefix
	JWTSecret      string
	Timezone       string
	Location       *time.Location

	RateReadRPS    float64
	RateReadBurst  float64
	RateWriteRPS   float64
	RateWriteBurst float64

	OutboxPoll  time.Duration
	OutboxBatch int
	OutboxRetry int

	problems []error
}

// FromEnv reads the process environment.
func FromEnv() Config {
	return Load(os.Getenv)
}

// Load builds a Config from an arbitrary lookup. Unparseable values keep
// their default and are reported by Validate.
func Load(getenv func(string) string) Config {
	l := loader{getenv: getenv}
	cfg := Config{
		BotToken:       strings.TrimSpace(getenv("BOT_TOKEN")),
		OwnerChatID:    strings.TrimSpace(getenv("OWNER_CHAT_ID")),
		DriverGroupID:  strings.TrimSpace(getenv("DRIVER_GROUP_ID")),
		WebhookSecret:  getenv("WEBHOOK_SECRET"),
		MiniAppURL:     getenv("MINI_APP_URL"),
		TelegramAPIURL: l.str("TELEGRAM_API_URL", "https://api.telegram.org"),

		HTTPAddr:    l.str("HTTP_ADDR", ":8080"),
		PostgresDSN: firstNonEmpty(getenv("POSTGRES_DSN"), getenv("DATABASE_URL")),
		RedisAddr:   getenv("REDIS_ADDR"),
		NATSURL:     getenv("NATS_URL"),

		SubmitCooldown:   time.Duration(l.int("SUBMIT_COOLDOWN_SEC", 60)) * time.Second,
		RetryMaxAttempts: l.int("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   time.Duration(l.int("RETRY_BASE_DELAY_MS", 200)) * time.Millisecond,
		NotifyTimeout:    time.Duration(l.int("NOTIFY_TIMEOUT_MS", 5000)) * time.Millisecond,
		CatalogTTL:       time.Duration(l.int("CATALOG_TTL_SEC", 21600)) * time.Second,

		CORSAllowedOrigins: splitList(getenv("CORS_ALLOWED_ORIGINS")),
		TrustedProxies:     l.prefixes("TRUSTED_PROXIES"),
		JWTSecret:          getenv("JWT_SECRET"),
		Timezone:           l.str("TIMEZONE", "Asia/Tashkent"),

		RateReadRPS:    l.float("RATE_READ_RPS", 20),
		RateReadBurst:  l.float("RATE_READ_BURST", 40),
		RateWriteRPS:   l.float("RATE_WRITE_RPS", 2),
		RateWriteBurst: l.float("RATE_WRITE_BURST", 5),

		OutboxPoll:  time.Duration(l.int("OUTBOX_POLL_MS", 200)) * time.Millisecond,
		OutboxBatch: l.int("OUTBOX_BATCH", 100),
		OutboxRetry: l.int("OUTBOX_RETRY_MAX", 3),
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		l.problems = append(l.problems, fmt.Errorf("TIMEZONE %q: %w", cfg.Timezone, err))
		loc = time.UTC
	}
	cfg.Location = loc
	cfg.problems = l.problems
	return cfg
}

// Validate reports every missing or invalid setting at once.
func (c Config) Validate() error {
	errs := append([]error(nil), c.problems...)
	for _, req := range []struct{ key, val string }{
		{"BOT_TOKEN", c.BotToken},
		{"OWNER_CHAT_ID", c.OwnerChatID},
		{"WEBHOOK_SECRET", c.WebhookSecret},
	} {
		if req.val == "" {
			errs = append(errs, fmt.Errorf("%s is required", req.key))
		}
	}
	if c.SubmitCooldown <= 0 {
		errs = append(errs, errors.New("SUBMIT_COOLDOWN_SEC must be positive"))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.RetryBaseDelay <= 0 {
		errs = append(errs, errors.New("RETRY_BASE_DELAY_MS must be positive"))
	}
	if c.NotifyTimeout <= 0 {
		errs = append(errs, errors.New("NOTIFY_TIMEOUT_MS must be positive"))
	}
	return errors.Join(errs...)
}

type loader struct {
	getenv   func(string) string
	problems []error
}

func (l *loader) str(key, fallback string) string {
	if v := strings.TrimSpace(l.getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (l *loader) int(key string, fallback int) int {
	v := strings.TrimSpace(l.getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		l.problems = append(l.problems, fmt.Errorf("%s: %q is not an integer", key, v))
		return fallback
	}
	return parsed
}

func (l *loader) float(key string, fallback float64) float64 {
	v := strings.TrimSpace(l.getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.problems = append(l.problems, fmt.Errorf("%s: %q is not a number", key, v))
		return fallback
	}
	return parsed
}

// prefixes reads a comma list of CIDRs; a bare address is a single-host prefix.
func (l *loader) prefixes(key string) []netip.Prefix {
	var out []netip.Prefix
	for _, part := range splitList(l.getenv(key)) {
		if !strings.Contains(part, "/") {
			addr, err := netip.ParseAddr(part)
			if err != nil {
				l.problems = append(l.problems, fmt.Errorf("%s: %q is not an address or CIDR", key, part))
				continue
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(part)
		if err != nil {
			l.problems = append(l.problems, fmt.Errorf("%s: %q is not an address or CIDR", key, part))
			continue
		}
		out = append(out, prefix.Masked())
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
