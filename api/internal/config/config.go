package config

import (
	"errors"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port     string
	LogLevel string

	OpenAIBaseURL string
	MaxBodyBytes  int64

	// DatabaseURL is empty when the analysis log is disabled.
	DatabaseURL string

	TelegramBotToken string
	WebhookURL       string
	BotEngine        string // "gpt" | "gemini"
	OpenAIAPIKey     string
	GeminiAPIKey     string
	GeminiModel      string
}

// Load reads the optional env files, then the process environment. Missing files are skipped.
func Load(envFiles ...string) *Config {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("MAX_BODY_BYTES", 20<<20)
	v.SetDefault("BOT_ENGINE", "gpt")
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")

	return &Config{
		Port:     strings.TrimSpace(v.GetString("PORT")),
		LogLevel: v.GetString("LOG_LEVEL"),

		OpenAIBaseURL: v.GetString("OPENAI_BASE_URL"),
		MaxBodyBytes:  v.GetInt64("MAX_BODY_BYTES"),

		DatabaseURL: resolveDSN(v),

		TelegramBotToken: v.GetString("TELEGRAM_BOT_TOKEN"),
		WebhookURL:       strings.TrimSpace(v.GetString("WEBHOOK_URL")),
		BotEngine:        strings.ToLower(strings.TrimSpace(v.GetString("BOT_ENGINE"))),
		OpenAIAPIKey:     v.GetString("OPENAI_API_KEY"),
		GeminiAPIKey:     v.GetString("GEMINI_API_KEY"),
		GeminiModel:      v.GetString("GEMINI_MODEL"),
	}
}

// ValidateBot reports the settings the Telegram bot cannot run without.
func (c *Config) ValidateBot() error {
	var errs []error
	if c.TelegramBotToken == "" {
		errs = append(errs, errors.New("missing required env TELEGRAM_BOT_TOKEN"))
	}
	switch c.BotEngine {
	case "gpt", "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("missing required env OPENAI_API_KEY"))
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("missing required env GEMINI_API_KEY"))
		}
	default:
		errs = append(errs, errors.New("unknown BOT_ENGINE; use 'gpt' or 'gemini'"))
	}
	return errors.Join(errs...)
}

// resolveDSN prefers DATABASE_URL and otherwise builds a DSN from POSTGRES_*/PG* variables,
// but only when a host is given; no host means the analysis log is off.
func resolveDSN(v *viper.Viper) string {
	if s := strings.TrimSpace(v.GetString("DATABASE_URL")); s != "" {
		return s
	}
	host := strings.TrimSpace(v.GetString("PGHOST"))
	if host == "" {
		return ""
	}
	user := getEnv("POSTGRES_USER", "receipt")
	pass := os.Getenv("POSTGRES_PASSWORD")
	port := getEnv("PGPORT", "5432")
	db := getEnv("POSTGRES_DB", "receipt")

	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, pass),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
