package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chat-tender/backend/telemetry"
)

// DefaultFlushInterval is how often a session drains its buffer to the sink
// when the config doesn't override it.
const DefaultFlushInterval = 5 * time.Second

// StopMode selects how a session ends.
type StopMode int

const (
	// StopAfterDuration ends the session after a fixed wall-clock duration
	// measured from session start.
	StopAfterDuration StopMode = iota
	// StopOnStreamEnd ends the session when the source reports the upstream
	// stream went away. Detection is best-effort; with no recognizable
	// signal the session runs until process shutdown.
	StopOnStreamEnd
)

func (m StopMode) String() string {
	if m == StopOnStreamEnd {
		return "stream-end"
	}
	return "duration"
}

// ParseStopMode parses the CAPTURE_STOP values "duration" and "stream-end".
func ParseStopMode(s string) (StopMode, error) {
	switch s {
	case "", "duration":
		return StopAfterDuration, nil
	case "stream-end":
		return StopOnStreamEnd, nil
	default:
		return StopAfterDuration, E(KindConfig, "parse stop mode", errors.New("want duration or stream-end, got "+s))
	}
}

// EndSignal is a best-effort notification from the source that the upstream
// stream has gone away.
type EndSignal struct {
	Reason string
}

// Source is a connected real-time chat feed. Implementations must suppress
// the capturing identity's own messages before they reach Records, and must
// make Disconnect safe even when Connect partially failed.
type Source interface {
	Connect(ctx context.Context) error
	Disconnect() error
	// Records delivers observed messages in arrival order. The channel may
	// be closed when the underlying connection drops.
	Records() <-chan ChatRecord
	// EndSignals delivers best-effort end-of-stream notifications. Only
	// consulted when the session stop mode is StopOnStreamEnd.
	EndSignals() <-chan EndSignal
}

// SinkWriter appends captured rows to a durable tabular store.
// EnsureDestination runs once before any rows, creating the target location
// (and its header) as needed. AppendRows must preserve row order.
type SinkWriter interface {
	EnsureDestination(ctx context.Context) error
	AppendRows(ctx context.Context, rows []ChatRecord) error
	Close(ctx context.Context) error
}

// SessionConfig describes one capture run.
type SessionConfig struct {
	// ID is optional; a UUID is generated when empty.
	ID      string
	Channel string
	// Output is the destination descriptor reported in the result
	// (file path, DSN, or gsheets URL).
	Output          string
	Stop            StopMode
	Duration        time.Duration // required when Stop == StopAfterDuration
	IncludeUserInfo bool
	FlushInterval   time.Duration
}

// Status is the terminal state reported in a Result.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result reports the outcome of one session.
type Result struct {
	SessionID     string    `json:"sessionId"`
	Channel       string    `json:"channel"`
	MessagesCount int       `json:"messagesCount"`
	OutputFile    string    `json:"outputFile"`
	Status        Status    `json:"status"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	EndedAt       time.Time `json:"endedAt"`
}

// Session owns one capture run: it connects the source, consumes its record
// feed, drains the buffer to the sink on a fixed period, and guarantees the
// terminal cleanup (final flush, disconnect, sink close) runs exactly once.
//
// All record handling happens on the goroutine running Run; the buffer is
// never touched concurrently.
type Session struct {
	cfg    SessionConfig
	source Source
	sink   SinkWriter
	log    *slog.Logger

	buf     RecordBuffer
	count   atomic.Int64
	started atomic.Int64 // unix nanos; zero before Run
	ended   time.Time

	closeOnce sync.Once
	closeErr  error
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string { return uuid.NewString() }

// NewSession validates cfg and builds a session. Channel and Output are
// required; a duration session needs a positive duration.
func NewSession(cfg SessionConfig, source Source, sink SinkWriter) (*Session, error) {
	if NormalizeChannel(cfg.Channel) == "" {
		return nil, E(KindConfig, "new session", errors.New("channel is required"))
	}
	if cfg.Output == "" {
		return nil, E(KindConfig, "new session", errors.New("output destination is required"))
	}
	if cfg.Stop == StopAfterDuration && cfg.Duration <= 0 {
		return nil, E(KindConfig, "new session", errors.New("duration must be positive for a fixed-duration session"))
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	cfg.Channel = NormalizeChannel(cfg.Channel)
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	return &Session{
		cfg:    cfg,
		source: source,
		sink:   sink,
		log: slog.Default().With(
			slog.String("session_id", cfg.ID),
			slog.String("channel", cfg.Channel),
		),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.cfg.ID }

// Channel returns the normalized channel name.
func (s *Session) Channel() string { return s.cfg.Channel }

// MessagesCount returns the number of records observed so far. Safe to call
// from other goroutines (status endpoint).
func (s *Session) MessagesCount() int { return int(s.count.Load()) }

// StartedAt returns the session start instant (zero before Run). Safe to
// call from other goroutines (status endpoint).
func (s *Session) StartedAt() time.Time {
	ns := s.started.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Run executes the session to completion and always returns a Result, even
// on failure. Cleanup runs exactly once regardless of how the loop exits.
func (s *Session) Run(ctx context.Context) Result {
	start := time.Now().UTC()
	s.started.Store(start.UnixNano())
	telemetry.SessionStarted()
	defer telemetry.SessionEnded()

	ctx, span := telemetry.StartSpan(ctx, "capture", "capture.session",
		attribute.String("channel", s.cfg.Channel),
		attribute.String("stop_mode", s.cfg.Stop.String()),
	)
	defer span.End()

	s.log.Info("capture session starting",
		slog.String("stop", s.cfg.Stop.String()),
		slog.Duration("duration", s.cfg.Duration),
		slog.String("output", s.cfg.Output))

	err := s.run(ctx)

	res := Result{
		SessionID:     s.cfg.ID,
		Channel:       s.cfg.Channel,
		MessagesCount: int(s.count.Load()),
		OutputFile:    s.cfg.Output,
		Status:        StatusSuccess,
		StartedAt:     start,
		EndedAt:       s.ended,
	}
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		telemetry.RecordError(span, err)
		s.log.Error("capture session failed", slog.Any("err", err), slog.Int("messages", res.MessagesCount))
	} else {
		telemetry.SetSpanSuccess(span)
		s.log.Info("capture session finished", slog.Int("messages", res.MessagesCount))
	}
	return res
}

// run drives the session loop. The returned error is the primary error; the
// deferred finalize may contribute one only when the loop itself succeeded.
func (s *Session) run(ctx context.Context) (err error) {
	defer func() {
		// Cleanup must run even when record handling or the wait loop
		// fails, and must not mask an already-raised primary error.
		ferr := s.finalize(context.WithoutCancel(ctx))
		if err == nil {
			err = ferr
		}
	}()

	if err := s.sink.EnsureDestination(ctx); err != nil {
		if KindOf(err) == KindUnknown {
			return E(KindIO, "ensure destination", err)
		}
		return err
	}
	if err := s.source.Connect(ctx); err != nil {
		if KindOf(err) == KindUnknown {
			return E(KindConnect, "connect source", err)
		}
		return err
	}

	var timerC <-chan time.Time
	if s.cfg.Stop == StopAfterDuration {
		timer := time.NewTimer(s.cfg.Duration)
		defer timer.Stop()
		timerC = timer.C
	}
	var endC <-chan EndSignal
	if s.cfg.Stop == StopOnStreamEnd {
		endC = s.source.EndSignals()
	}
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	records := s.source.Records()
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				// Feed closed (connection dropped). The session still ends
				// only via its stop condition; a stream-end session with a
				// dead feed and no observed end signal runs until shutdown.
				s.log.Warn("record feed closed before stop condition")
				records = nil
				continue
			}
			s.buf.Append(rec)
			s.count.Add(1)
			telemetry.CountMessage()
			telemetry.SetBufferDepth(s.buf.Len())
		case <-ticker.C:
			if ferr := s.flush(ctx); ferr != nil {
				// Transient by contract: buffer was requeued, next tick retries.
				s.log.Warn("flush failed; will retry", slog.Any("err", ferr), slog.Int("buffered", s.buf.Len()))
			}
		case <-timerC:
			return nil
		case sig := <-endC:
			s.log.Info("end signal observed", slog.String("reason", sig.Reason))
			return nil
		case <-ctx.Done():
			// External cancellation (e.g. SIGTERM) routes through the same
			// idempotent finalize path as a normal stop.
			s.log.Info("capture interrupted; finalizing", slog.Any("cause", context.Cause(ctx)))
			return nil
		}
	}
}

// flush drains the buffer through the sink in arrival order. On failure the
// drained rows are requeued in front so the next flush retries them; a
// partial append that reached the sink before the failure may be written
// again (at-least-once, documented).
func (s *Session) flush(ctx context.Context) error {
	rows := s.buf.Drain()
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()
	if err := s.sink.AppendRows(ctx, rows); err != nil {
		s.buf.Requeue(rows)
		telemetry.CountFlushFailure()
		if KindOf(err) == KindUnknown {
			err = E(KindSinkWrite, "append rows", err)
		}
		return err
	}
	telemetry.ObserveFlush(time.Since(start), len(rows))
	telemetry.SetBufferDepth(s.buf.Len())
	return nil
}

// finalize performs the terminal cleanup exactly once: final flush, source
// disconnect, sink close, in that order. Disconnect and close errors are
// logged and swallowed so they never mask a primary error; a final-flush
// failure is reported but does not block the disconnect.
func (s *Session) finalize(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.ended = time.Now().UTC()
		if err := s.flush(ctx); err != nil {
			s.log.Warn("final flush failed", slog.Any("err", err), slog.Int("unpersisted", s.buf.Len()))
			s.closeErr = err
		}
		if err := s.source.Disconnect(); err != nil {
			s.log.Warn("source disconnect failed", slog.Any("err", err))
		}
		if err := s.sink.Close(ctx); err != nil {
			s.log.Warn("sink close failed", slog.Any("err", err))
		}
	})
	return s.closeErr
}

// Close finalizes the session. Idempotent: a second call is a no-op and
// returns the same error as the first.
func (s *Session) Close() error {
	return s.finalize(context.Background())
}
