// Package config provides configuration structures and loading for the fuel price watcher.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the fuel price watcher.
type Config struct {
	// Log level (debug, info, warn, error)
	LogLevel string
	// Log format (json, console)
	LogFormat string
	// HTTP server address
	HTTPAddr string
	// FuelCheck API settings
	FuelCheck FuelCheckConfig
	// Station codes to track
	StationWhitelist []int
	// Fuel types to track
	FuelTypeWhitelist []string
	// Interval between incremental polls
	PollInterval time.Duration
	// Change outbox, postgres://... or sqlite:<path>. Empty disables it.
	DatabaseDSN string
	Mail        MailConfig
	MQTT        MQTTConfig
}

// FuelCheckConfig holds configuration of the FuelCheck API client.
type FuelCheckConfig struct {
	BaseURL         string
	ClientID        string
	ClientSecret    string
	CredentialsFile string
	// Timezone of the timestamps the API reports
	Timezone       string
	RequestTimeout time.Duration
	RetryMax       int
}

// MailConfig holds configuration of the sendmail notifier.
type MailConfig struct {
	Enabled      bool
	SendmailPath string
	From         string
	To           []string
	Subject      string
}

// MQTTConfig holds configuration of the MQTT notifier. An empty broker disables it.
type MQTTConfig struct {
	Broker      string
	Port        int
	ClientID    string
	TopicPrefix string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		HTTPAddr:  ":8080",
		FuelCheck: FuelCheckConfig{
			BaseURL:         "https://api.onegov.nsw.gov.au",
			CredentialsFile: "~/.config/fuelwatcher/credentials.json",
			Timezone:        "Australia/Sydney",
			RequestTimeout:  30 * time.Second,
			RetryMax:        3,
		},
		StationWhitelist:  []int{63, 322, 327, 854, 1306, 1377},
		FuelTypeWhitelist: []string{"E10", "U91"},
		PollInterval:      20 * time.Minute,
		Mail: MailConfig{
			SendmailPath: "/usr/sbin/sendmail",
			From:         "info@example.com",
			Subject:      "Fuel prices changed",
		},
		MQTT: MQTTConfig{
			Port:        1883,
			ClientID:    "fuelwatcher",
			TopicPrefix: "fuelwatcher",
		},
	}
}

// LoadDotEnv loads variables from the given files, or .env, into the environment.
// Missing files are ignored. Variables that are already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Values that cannot be parsed are reported together.
func (c *Config) LoadFromEnv() error {
	var errs []error

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = i
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("HTTP_ADDR", &c.HTTPAddr)

	str("FUELCHECK_BASE_URL", &c.FuelCheck.BaseURL)
	str("FUELCHECK_CLIENT_ID", &c.FuelCheck.ClientID)
	str("FUELCHECK_CLIENT_SECRET", &c.FuelCheck.ClientSecret)
	str("FUELCHECK_CREDENTIALS_FILE", &c.FuelCheck.CredentialsFile)
	str("FUELCHECK_TIMEZONE", &c.FuelCheck.Timezone)
	dur("REQUEST_TIMEOUT", &c.FuelCheck.RequestTimeout)
	integer("REQUEST_RETRY_MAX", &c.FuelCheck.RetryMax)

	if v := os.Getenv("STATION_WHITELIST"); v != "" {
		codes, err := ParseStationCodes(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid STATION_WHITELIST: %w", err))
		} else {
			c.StationWhitelist = codes
		}
	}
	if v := os.Getenv("FUEL_TYPE_WHITELIST"); v != "" {
		c.FuelTypeWhitelist = ParseList(v, true)
	}
	dur("POLL_INTERVAL", &c.PollInterval)

	str("DATABASE_DSN", &c.DatabaseDSN)

	if v := os.Getenv("MAIL_ENABLED"); v != "" {
		c.Mail.Enabled = strings.ToLower(strings.TrimSpace(v)) == "true"
	}
	str("MAIL_SENDMAIL_PATH", &c.Mail.SendmailPath)
	str("MAIL_FROM", &c.Mail.From)
	if v := os.Getenv("MAIL_TO"); v != "" {
		c.Mail.To = ParseList(v, false)
	}
	str("MAIL_SUBJECT", &c.Mail.Subject)

	str("MQTT_BROKER", &c.MQTT.Broker)
	integer("MQTT_PORT", &c.MQTT.Port)
	str("MQTT_CLIENT_ID", &c.MQTT.ClientID)
	str("MQTT_TOPIC_PREFIX", &c.MQTT.TopicPrefix)

	return errors.Join(errs...)
}

// Validate checks the settings needed to poll the FuelCheck API.
func (c *Config) Validate() error {
	var errs []error
	if c.FuelCheck.ClientID == "" || c.FuelCheck.ClientSecret == "" {
		errs = append(errs, errors.New("FuelCheck client id and secret are required"))
	}
	if len(c.StationWhitelist) == 0 {
		errs = append(errs, errors.New("station whitelist must not be empty"))
	}
	if len(c.FuelTypeWhitelist) == 0 {
		errs = append(errs, errors.New("fuel type whitelist must not be empty"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Mail.Enabled && (c.Mail.From == "" || len(c.Mail.To) == 0) {
		errs = append(errs, errors.New("mail sender and recipients are required when mail is enabled"))
	}
	return errors.Join(errs...)
}

// Location returns the timezone of the FuelCheck timestamps.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.FuelCheck.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.FuelCheck.Timezone, err)
	}
	return loc, nil
}

// ParseStationCodes parses a comma separated list of station codes.
func ParseStationCodes(s string) ([]int, error) {
	var codes []int
	for _, part := range ParseList(s, false) {
		code, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("station code %q: %w", part, err)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// ParseList splits a comma separated list and drops empty items.
func ParseList(s string, upper bool) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if upper {
			part = strings.ToUpper(part)
		}
		out = append(out, part)
	}
	return out
}
