package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendLocal    = "local"
	BackendTemporal = "temporal"

	ProviderLog      = "log"
	ProviderHTTP     = "http"
	ProviderTelegram = "telegram"
)

type Config struct {
	HTTPAddr string
	DBPath   string

	LogFormat string
	LogLevel  string

	SpreadsheetID            string
	SheetName                string
	GoogleServiceAccountJSON string
	HeaderTablePath          string
	UnmappedLabelPolicy      string

	SMSProvider   string
	SMSGatewayURL string
	SMSAPIKey     string
	SMSSender     string

	TelegramToken  string
	TelegramChatID int64

	ReminderAt string

	DispatchBackend   string
	TemporalHostPort  string
	TemporalNamespace string
}

// Load reads env files into the process environment and then parses it.
// With no files given an optional .env in the working directory is used.
// Variables already set in the environment win over file entries.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if len(envFiles) > 0 || !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	var c Config
	c.HTTPAddr = envDefault("HTTP_ADDR", ":8080")
	c.DBPath = envDefault("DB_PATH", "retreat.db")
	c.LogFormat = envDefault("LOG_FORMAT", "json")
	c.LogLevel = envDefault("LOG_LEVEL", "info")

	c.SpreadsheetID = env("SPREADSHEET_ID")
	c.SheetName = envDefault("SHEET_NAME", "신청자 명단")
	c.GoogleServiceAccountJSON = env("GOOGLE_SERVICE_ACCOUNT_JSON")
	c.HeaderTablePath = env("HEADER_TABLE_PATH")
	c.UnmappedLabelPolicy = strings.ToLower(envDefault("UNMAPPED_LABEL_POLICY", "drop"))

	c.SMSProvider = strings.ToLower(envDefault("SMS_PROVIDER", ProviderLog))
	c.SMSGatewayURL = strings.TrimRight(env("SMS_GATEWAY_URL"), "/")
	c.SMSAPIKey = env("SMS_API_KEY")
	c.SMSSender = env("SMS_SENDER")
	c.TelegramToken = env("TELEGRAM_BOT_TOKEN")

	c.ReminderAt = envDefault("REMINDER_AT", "00:30")

	c.DispatchBackend = strings.ToLower(envDefault("DISPATCH_BACKEND", BackendLocal))
	c.TemporalHostPort = envDefault("TEMPORAL_HOSTPORT", "localhost:7233")
	c.TemporalNamespace = envDefault("TEMPORAL_NAMESPACE", "default")

	if raw := env("TELEGRAM_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c, fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		c.TelegramChatID = id
	}

	if _, err := time.Parse("15:04", c.ReminderAt); err != nil {
		return c, fmt.Errorf("REMINDER_AT must be HH:MM, got %q", c.ReminderAt)
	}
	switch c.UnmappedLabelPolicy {
	case "drop", "reject":
	default:
		return c, fmt.Errorf("UNMAPPED_LABEL_POLICY must be drop or reject, got %q", c.UnmappedLabelPolicy)
	}
	switch c.DispatchBackend {
	case BackendLocal, BackendTemporal:
	default:
		return c, fmt.Errorf("unknown DISPATCH_BACKEND: %s", c.DispatchBackend)
	}
	switch c.SMSProvider {
	case ProviderLog:
	case ProviderHTTP:
		if c.SMSGatewayURL == "" {
			return c, fmt.Errorf("SMS_GATEWAY_URL is empty")
		}
	case ProviderTelegram:
		if c.TelegramToken == "" {
			return c, fmt.Errorf("TELEGRAM_BOT_TOKEN is empty")
		}
		if c.TelegramChatID == 0 {
			return c, fmt.Errorf("TELEGRAM_CHAT_ID is empty")
		}
	default:
		return c, fmt.Errorf("unknown SMS_PROVIDER: %s", c.SMSProvider)
	}
	return c, nil
}

// SheetsEnabled reports whether spreadsheet sync has credentials.
func (c Config) SheetsEnabled() bool {
	return c.SpreadsheetID != "" && c.GoogleServiceAccountJSON != ""
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envDefault(key, fallback string) string {
	if v := env(key); v != "" {
		return v
	}
	return fallback
}
