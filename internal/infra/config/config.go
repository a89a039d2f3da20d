package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the notification service.
type AppConfig struct {
	HTTPAddr    string
	DatabaseURL string
	LogLevel    string
	Environment string

	// Secondary carrier provider (Twilio) credentials.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// PairingTimeout bounds how long a pairing attempt may wait for the
	// pairing code before it is failed with PairingTimeout.
	PairingTimeout time.Duration

	// CronSpecDailyReminders drives the scheduled next-day reminder run.
	CronSpecDailyReminders string

	// SessionSettingsKey is the settings-store key the channel session is
	// persisted under.
	SessionSettingsKey string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	// Twilio credentials are optional: without them SMS dispatch is
	// disabled and only the interactive channel is usable.
	cfg.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.TwilioFromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	if cfg.TwilioAccountSID != "" && (cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "") {
		return nil, fmt.Errorf("TWILIO_ACCOUNT_SID is set but TWILIO_AUTH_TOKEN or TWILIO_FROM_NUMBER is missing")
	}

	cfg.PairingTimeout = 2 * time.Minute
	if raw := os.Getenv("PAIRING_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid PAIRING_TIMEOUT: %w", err)
		}
		cfg.PairingTimeout = d
	}

	cfg.CronSpecDailyReminders = os.Getenv("CRON_SPEC_DAILY_REMINDERS")
	if cfg.CronSpecDailyReminders == "" {
		cfg.CronSpecDailyReminders = "0 9 * * *" // Default: 9 AM daily
	}

	cfg.SessionSettingsKey = os.Getenv("SESSION_SETTINGS_KEY")
	if cfg.SessionSettingsKey == "" {
		cfg.SessionSettingsKey = "whatsapp_session"
	}

	return cfg, nil
}
