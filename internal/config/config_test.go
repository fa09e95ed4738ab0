package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"HTTP_ADDR", "DB_PATH", "LOG_FORMAT", "LOG_LEVEL", "SPREADSHEET_ID", "SHEET_NAME",
	"GOOGLE_SERVICE_ACCOUNT_JSON", "HEADER_TABLE_PATH", "UNMAPPED_LABEL_POLICY",
	"SMS_PROVIDER", "SMS_GATEWAY_URL", "SMS_API_KEY", "SMS_SENDER",
	"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "REMINDER_AT",
	"DISPATCH_BACKEND", "TEMPORAL_HOSTPORT", "TEMPORAL_NAMESPACE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, "retreat.db", c.DBPath)
	assert.Equal(t, "json", c.LogFormat)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "신청자 명단", c.SheetName)
	assert.Equal(t, "drop", c.UnmappedLabelPolicy)
	assert.Equal(t, ProviderLog, c.SMSProvider)
	assert.Equal(t, "00:30", c.ReminderAt)
	assert.Equal(t, BackendLocal, c.DispatchBackend)
	assert.Equal(t, "localhost:7233", c.TemporalHostPort)
	assert.Equal(t, "default", c.TemporalNamespace)
	assert.False(t, c.SheetsEnabled())
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SPREADSHEET_ID", " sheet-1 ")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "/etc/sa.json")
	t.Setenv("UNMAPPED_LABEL_POLICY", "REJECT")
	t.Setenv("SMS_PROVIDER", "http")
	t.Setenv("SMS_GATEWAY_URL", "https://sms.example.com/")
	t.Setenv("DISPATCH_BACKEND", "temporal")

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "sheet-1", c.SpreadsheetID)
	assert.Equal(t, "reject", c.UnmappedLabelPolicy)
	assert.Equal(t, "https://sms.example.com", c.SMSGatewayURL)
	assert.Equal(t, BackendTemporal, c.DispatchBackend)
	assert.True(t, c.SheetsEnabled())
}

func TestFromEnv_Telegram(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMS_PROVIDER", "telegram")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	_, err := FromEnv()
	assert.ErrorContains(t, err, "TELEGRAM_CHAT_ID")

	t.Setenv("TELEGRAM_CHAT_ID", "-100200300")
	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, int64(-100200300), c.TelegramChatID)
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"reminder time":  {"REMINDER_AT": "half past midnight"},
		"policy":         {"UNMAPPED_LABEL_POLICY": "ignore"},
		"backend":        {"DISPATCH_BACKEND": "kafka"},
		"provider":       {"SMS_PROVIDER": "pigeon"},
		"gateway url":    {"SMS_PROVIDER": "http"},
		"chat id":        {"TELEGRAM_CHAT_ID": "channel"},
		"telegram token": {"SMS_PROVIDER": "telegram", "TELEGRAM_CHAT_ID": "1"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	// Present-but-empty variables would shadow the file entries.
	for _, k := range []string{"DB_PATH", "SHEET_NAME"} {
		require.NoError(t, os.Unsetenv(k))
	}
	path := filepath.Join(t.TempDir(), "retreat.env")
	require.NoError(t, os.WriteFile(path, []byte("DB_PATH=/var/lib/retreat.db\nSHEET_NAME=\"2025 여름 수련회\"\n"), 0o600))
	t.Setenv("HTTP_ADDR", ":9090")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/retreat.db", c.DBPath)
	assert.Equal(t, "2025 여름 수련회", c.SheetName)
	assert.Equal(t, ":9090", c.HTTPAddr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
