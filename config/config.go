// Package config loads environment variables and provides a typed Config
// used across the service. It applies sensible defaults so the binary can run
// locally with minimal setup. For required capture credentials use
// ValidateCaptureReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/chat-tender/backend/capture"
)

type Config struct {
	// Twitch
	Channels     []string
	BotUsername  string
	OAuthToken   string
	ClientID     string
	ClientSecret string

	// Capture
	Stop            capture.StopMode
	Duration        time.Duration
	Output          string // may contain {channel}
	Format          string
	IncludeUserInfo bool
	FlushInterval   time.Duration
	ContinueOnError bool
	MaxConcurrent   int

	// Database (optional; needed for the postgres sink, session history,
	// and stored tokens)
	DBDsn string

	// HTTP
	HTTPAddr string
}

// Load reads environment variables and applies defaults. It doesn't fail on
// missing Twitch creds; use ValidateCaptureReady() before starting sessions.
func Load() (*Config, error) {
	cfg := &Config{}

	for _, ch := range strings.Split(os.Getenv("TWITCH_CHANNELS"), ",") {
		if normalized := capture.NormalizeChannel(ch); normalized != "" {
			cfg.Channels = append(cfg.Channels, normalized)
		}
	}
	cfg.BotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.OAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.ClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.ClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")

	stop, err := capture.ParseStopMode(os.Getenv("CAPTURE_STOP"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTURE_STOP: %w", err)
	}
	cfg.Stop = stop

	if v := os.Getenv("CAPTURE_DURATION_MS"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid CAPTURE_DURATION_MS %q: want a positive integer", v)
		}
		cfg.Duration = time.Duration(ms) * time.Millisecond
	}

	cfg.Output = os.Getenv("CAPTURE_OUTPUT")
	if cfg.Output == "" {
		cfg.Output = "data/chat-{channel}.csv"
	}
	cfg.Format = os.Getenv("CAPTURE_FORMAT")

	cfg.IncludeUserInfo = true
	if v := os.Getenv("CAPTURE_INCLUDE_USER_INFO"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CAPTURE_INCLUDE_USER_INFO %q: %w", v, err)
		}
		cfg.IncludeUserInfo = b
	}

	cfg.FlushInterval = capture.DefaultFlushInterval
	if v := os.Getenv("CAPTURE_FLUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid CAPTURE_FLUSH_INTERVAL %q: want a positive duration", v)
		}
		cfg.FlushInterval = d
	}

	if v := os.Getenv("CAPTURE_CONTINUE_ON_ERROR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CAPTURE_CONTINUE_ON_ERROR %q: %w", v, err)
		}
		cfg.ContinueOnError = b
	}

	if v := os.Getenv("MAX_CONCURRENT_CAPTURES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid MAX_CONCURRENT_CAPTURES %q: want a non-negative integer", v)
		}
		cfg.MaxConcurrent = n
	}

	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	return cfg, nil
}

// ValidateCaptureReady checks the fields a capture session requires.
func (c *Config) ValidateCaptureReady() error {
	if len(c.Channels) == 0 || c.BotUsername == "" || c.OAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNELS, TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	if c.Output == "" {
		return fmt.Errorf("missing CAPTURE_OUTPUT")
	}
	if c.Stop == capture.StopAfterDuration && c.Duration <= 0 {
		return fmt.Errorf("CAPTURE_DURATION_MS is required when CAPTURE_STOP=duration")
	}
	if len(c.Channels) > 1 && !strings.Contains(c.Output, "{channel}") && !strings.HasPrefix(c.Output, "postgres") && !strings.HasPrefix(c.Output, "gsheets") {
		return fmt.Errorf("multiple channels writing to one file: CAPTURE_OUTPUT needs a {channel} placeholder")
	}
	return nil
}

// OutputFor resolves the destination for one channel by expanding the
// {channel} placeholder.
func (c *Config) OutputFor(channel string) string {
	return strings.ReplaceAll(c.Output, "{channel}", capture.NormalizeChannel(channel))
}
