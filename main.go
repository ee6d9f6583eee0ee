// Command backend is the main entrypoint for the chat-tender capture
// service. It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres and runs idempotent migrations.
//   - Validates the Twitch chat token and starts a background token
//     refresher for long captures.
//   - Runs one capture session per configured channel, writing to the
//     configured sink (CSV, XLSX, Google Sheets, or Postgres).
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, and
//     /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM: sessions flush once more, then
// disconnect.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/onnwee/chat-tender/backend/capture"
	"github.com/onnwee/chat-tender/backend/config"
	dbpkg "github.com/onnwee/chat-tender/backend/db"
	"github.com/onnwee/chat-tender/backend/oauth"
	"github.com/onnwee/chat-tender/backend/server"
	"github.com/onnwee/chat-tender/backend/sink"
	"github.com/onnwee/chat-tender/backend/telemetry"
	"github.com/onnwee/chat-tender/backend/twitchapi"
	"github.com/onnwee/chat-tender/backend/twitchchat"
)

func main() {
	// Load .env if present (local dev convenience; production uses real env).
	_ = godotenv.Load(".env")

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateCaptureReady(); err != nil {
		slog.Error("capture config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("chat-tender", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database is optional; only needed for the postgres sink, session
	// history, and stored tokens.
	var database *sql.DB
	if cfg.DBDsn != "" {
		database, err = dbpkg.Connect()
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = dbpkg.Migrate(mctx, database)
		cancel()
		if err != nil {
			slog.Error("db migrate failed", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Best-effort: validate the chat token and log the identity it belongs
	// to. A mismatch with TWITCH_BOT_USERNAME breaks self-echo suppression.
	tapi := &twitchapi.Client{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret}
	vctx, vcancel := context.WithTimeout(ctx, 8*time.Second)
	if v, err := tapi.Validate(vctx, cfg.OAuthToken); err != nil {
		slog.Warn("twitch token validation failed", slog.Any("err", err))
	} else {
		slog.Info("twitch token valid", slog.String("login", v.Login), slog.Int("expires_in_s", v.ExpiresIn))
		if !strings.EqualFold(v.Login, cfg.BotUsername) {
			slog.Warn("token belongs to a different login than TWITCH_BOT_USERNAME",
				slog.String("token_login", v.Login), slog.String("configured", cfg.BotUsername))
		}
	}
	vcancel()

	// Keep the stored chat token fresh during long stream-end captures.
	if database != nil && cfg.ClientID != "" && cfg.ClientSecret != "" {
		oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute,
			func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
				res, err := tapi.RefreshUserToken(rctx, refreshToken)
				if err != nil {
					return "", "", time.Time{}, "", err
				}
				return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
			})
	}

	runner := &capture.Runner{
		ContinueOnError: cfg.ContinueOnError,
		MaxConcurrent:   cfg.MaxConcurrent,
	}

	// HTTP server for probes, status, and metrics.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewMux(database, runner),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", slog.Any("err", err))
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	sessions, err := buildSessions(ctx, cfg, database)
	if err != nil {
		slog.Error("session setup failed", slog.Any("err", err))
		os.Exit(1)
	}

	results, runErr := runner.Run(ctx, sessions)

	if database != nil {
		for _, res := range results {
			if res.SessionID == "" {
				continue // session never ran (group cancelled before start)
			}
			if err := dbpkg.RecordSessionResult(context.WithoutCancel(ctx), database, res, cfg.Stop.String()); err != nil {
				slog.Warn("failed to record session result", slog.Any("err", err))
			}
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("capture run failed", slog.Any("err", runErr))
		os.Exit(1)
	}
}

// buildSessions assembles one session per configured channel, each with its
// own source adapter and sink writer.
func buildSessions(ctx context.Context, cfg *config.Config, database *sql.DB) ([]*capture.Session, error) {
	format, err := sink.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	sessions := make([]*capture.Session, 0, len(cfg.Channels))
	for _, channel := range cfg.Channels {
		sessionID := capture.NewSessionID()
		output := cfg.OutputFor(channel)
		sinkCfg := sink.Config{
			Destination:     output,
			Format:          format,
			IncludeUserInfo: cfg.IncludeUserInfo,
			SessionID:       sessionID,
			Channel:         channel,
		}
		if f := sinkCfg.Format; f == sink.FormatSheets || (f == "" && sink.DetectFormat(output) == sink.FormatSheets) {
			ts, err := googleTokenSource(ctx, database)
			if err != nil {
				return nil, err
			}
			sinkCfg.TokenSource = ts
		}
		writer, err := sink.Open(sinkCfg)
		if err != nil {
			return nil, err
		}
		source := twitchchat.New(channel, cfg.BotUsername, cfg.OAuthToken, cfg.IncludeUserInfo)
		s, err := capture.NewSession(capture.SessionConfig{
			ID:              sessionID,
			Channel:         channel,
			Output:          output,
			Stop:            cfg.Stop,
			Duration:        cfg.Duration,
			IncludeUserInfo: cfg.IncludeUserInfo,
			FlushInterval:   cfg.FlushInterval,
		}, source, writer)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// googleTokenSource resolves Google Sheets credentials: GOOGLE_OAUTH_TOKEN
// from the environment, falling back to the stored token table.
func googleTokenSource(ctx context.Context, database *sql.DB) (oauth2.TokenSource, error) {
	if tok := os.Getenv("GOOGLE_OAUTH_TOKEN"); tok != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok}), nil
	}
	if database == nil {
		return nil, errors.New("gsheets sink needs GOOGLE_OAUTH_TOKEN or a database with a stored google token")
	}
	access, _, expiry, _, err := dbpkg.GetOAuthToken(ctx, database, "google")
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, errors.New("no google token stored; set GOOGLE_OAUTH_TOKEN or store one under provider 'google'")
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: access, Expiry: expiry}), nil
}

// setupLogging configures slog level and format from LOG_LEVEL / LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
