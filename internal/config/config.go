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

// Provider names accepted by CALL_PROVIDER.
const (
	ProviderVapi   = "vapi"
	ProviderTwilio = "twilio"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	AppEnv   string
	Port     string
	LogLevel string

	DatabaseURL   string
	SQLitePath    string
	LocalTimezone *time.Location

	CallProvider     string
	VapiAPIURL       string
	VapiPrivateKey   string
	VapiAssistantID  string
	VapiPhoneNumber  string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioCaller     string
	OpenAIAPIKey     string
	ProviderTimeout  time.Duration

	MinuteTickSpec       string
	HourlyTickSpec       string
	ReconcileConcurrency int
	ReconcileRatePerSec  int
	VoicemailGreeting    string

	// Warnings lists malformed values Load replaced with defaults.
	Warnings []string
}

// Load reads configuration values and prepares defaults where applicable.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var warnings []string
	warn := func(err error) {
		if err != nil {
			warnings = append(warnings, err.Error())
		}
	}

	timezoneName := getenvDefault("LOCAL_TIMEZONE", "Local")
	location, err := time.LoadLocation(timezoneName)
	if err != nil {
		warn(fmt.Errorf("config: invalid LOCAL_TIMEZONE %q, defaulting to system local: %w", timezoneName, err))
		location = time.Local
	}
	providerTimeout, err := ParseDurationEnv("PROVIDER_TIMEOUT", 30*time.Second)
	warn(err)
	concurrency, err := ParseIntEnv("RECONCILE_CONCURRENCY", 4)
	warn(err)
	ratePerSec, err := ParseIntEnv("RECONCILE_RATE_PER_SEC", 5)
	warn(err)

	cfg := &Config{
		AppEnv:   getenvDefault("APP_ENV", "local"),
		Port:     getenvDefault("PORT", "8080"),
		LogLevel: getenvDefault("LOG_LEVEL", "info"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SQLitePath:    getenvDefault("SQLITE_PATH", "reminders.db"),
		LocalTimezone: location,

		CallProvider:     strings.ToLower(getenvDefault("CALL_PROVIDER", ProviderVapi)),
		VapiAPIURL:       getenvDefault("VAPI_API_URL", "https://api.vapi.ai"),
		VapiPrivateKey:   os.Getenv("VAPI_PRIVATE_KEY"),
		VapiAssistantID:  os.Getenv("CALL_REMINDER_ASSISTANT_ID"),
		VapiPhoneNumber:  os.Getenv("VAPI_PHONE_NUMBER_ID"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioCaller:     os.Getenv("TWILIO_CALLER_NUMBER"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		ProviderTimeout:  providerTimeout,

		MinuteTickSpec:       getenvDefault("MINUTE_TICK_SPEC", "* * * * *"),
		HourlyTickSpec:       getenvDefault("HOURLY_TICK_SPEC", "0 * * * *"),
		ReconcileConcurrency: concurrency,
		ReconcileRatePerSec:  ratePerSec,
		VoicemailGreeting:    getenvDefault("VOICEMAIL_GREETING", "hi there"),
		Warnings:             warnings,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.CallProvider {
	case ProviderVapi:
		if c.VapiAPIURL == "" {
			errs = append(errs, errors.New("VAPI_API_URL is required"))
		}
		if c.VapiPrivateKey == "" {
			errs = append(errs, errors.New("VAPI_PRIVATE_KEY is required"))
		}
		if c.VapiAssistantID == "" {
			errs = append(errs, errors.New("CALL_REMINDER_ASSISTANT_ID is required"))
		}
		if c.VapiPhoneNumber == "" {
			errs = append(errs, errors.New("VAPI_PHONE_NUMBER_ID is required"))
		}
	case ProviderTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required"))
		}
		if c.TwilioCaller == "" {
			errs = append(errs, errors.New("TWILIO_CALLER_NUMBER is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("CALL_PROVIDER must be one of %s, %s, got %q", ProviderVapi, ProviderTwilio, c.CallProvider))
	}

	if c.ProviderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PROVIDER_TIMEOUT must be positive, got %s", c.ProviderTimeout))
	}
	if c.ReconcileConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("RECONCILE_CONCURRENCY must be positive, got %d", c.ReconcileConcurrency))
	}
	if c.ReconcileRatePerSec <= 0 {
		errs = append(errs, fmt.Errorf("RECONCILE_RATE_PER_SEC must be positive, got %d", c.ReconcileRatePerSec))
	}
	if strings.TrimSpace(c.VoicemailGreeting) == "" {
		errs = append(errs, errors.New("VOICEMAIL_GREETING must not be blank"))
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether the process runs in a local or dev environment.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "local" || c.AppEnv == "dev"
}

func getenvDefault(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	return value
}

// ParseIntEnv returns the integer value for an environment variable or the provided default.
// A malformed value yields the default together with an error describing it.
func ParseIntEnv(key string, def int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def, fmt.Errorf("config: unable to parse %s=%q as int: %w", key, value, err)
	}
	return parsed, nil
}

// ParseDurationEnv returns the duration value for an environment variable or the provided default.
func ParseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def, fmt.Errorf("config: unable to parse %s=%q as duration: %w", key, value, err)
	}
	return parsed, nil
}
