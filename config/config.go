package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment
// variables, with a .env file loaded first when present.
type Config struct {
	// Alpaca credentials and endpoints
	AlpacaAPIKey    string
	AlpacaSecretKey string
	AlpacaDataURL   string
	AlpacaStreamURL string
	AlpacaFeed      string // "iex" or "sip"

	// Alert channels
	DiscordWebhookURL string
	TelegramBotToken  string
	TelegramChatID    string

	// Infrastructure
	RedisAddr     string // empty disables the Redis mirror
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string // empty disables the metrics server

	// Behavior
	DryRun   bool
	Timezone string
	LogLevel string

	// Subscription
	Symbols string // comma-separated, e.g. "SMCI,NVDA"
}

// Load reads configuration from the environment. A .env in the working
// directory is merged in first; real environment variables win.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("[config] loaded .env")
	}

	return &Config{
		AlpacaAPIKey:    getEnv("ALPACA_API_KEY", ""),
		AlpacaSecretKey: getEnv("ALPACA_SECRET_KEY", ""),
		AlpacaDataURL:   getEnv("ALPACA_DATA_URL", "https://data.alpaca.markets"),
		AlpacaStreamURL: getEnv("ALPACA_STREAM_URL", "wss://stream.data.alpaca.markets/v2/iex"),
		AlpacaFeed:      getEnv("ALPACA_FEED", "iex"),

		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getEnv("TELEGRAM_CHAT_ID", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/divmon.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		DryRun:   getBool("DRY_RUN", false),
		Timezone: getEnv("TIMEZONE", "America/Toronto"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Symbols: getEnv("SYMBOLS", "SMCI"),
	}
}

// RequireAlpaca fails when the Alpaca credentials are missing. Only paths
// that talk to the real API call this; sim mode and SQLite-backed
// backtests run without keys.
func (c *Config) RequireAlpaca() error {
	if c.AlpacaAPIKey == "" || c.AlpacaSecretKey == "" {
		return fmt.Errorf("config: ALPACA_API_KEY and ALPACA_SECRET_KEY must be set")
	}
	return nil
}

// ParseSymbols splits the Symbols string into a deduplicated upper-case
// slice, preserving order.
func (c *Config) ParseSymbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range strings.Split(c.Symbols, ",") {
		s := strings.ToUpper(strings.TrimSpace(p))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// ParseTF converts a human timeframe like "10m" or "600" into seconds.
func ParseTF(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	mult := 1
	switch {
	case strings.HasSuffix(s, "h"):
		mult, s = 3600, strings.TrimSuffix(s, "h")
	case strings.HasSuffix(s, "m"):
		mult, s = 60, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "s"):
		s = strings.TrimSuffix(s, "s")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: invalid timeframe %q", s)
	}
	return n * mult, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
