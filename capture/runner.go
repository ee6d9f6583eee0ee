package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// SessionStatus is a point-in-time view of a running session, served by the
// HTTP status endpoint.
type SessionStatus struct {
	SessionID     string    `json:"sessionId"`
	Channel       string    `json:"channel"`
	MessagesCount int       `json:"messagesCount"`
	StartedAt     time.Time `json:"startedAt"`
}

// Runner executes a set of independent sessions with a global concurrency
// cap. Sessions never share state; one session's failure aborts its siblings
// only when ContinueOnError is unset.
type Runner struct {
	// ContinueOnError converts a session failure into an error Result
	// instead of cancelling the group.
	ContinueOnError bool
	// MaxConcurrent caps how many sessions capture at once. Zero means no cap.
	MaxConcurrent int

	mu     sync.Mutex
	active map[string]*Session
}

// Run executes all sessions and returns one Result per session, index-aligned
// with the input. Without ContinueOnError the first failing session cancels
// the rest and its error is returned with the session index attached.
func (r *Runner) Run(ctx context.Context, sessions []*Session) ([]Result, error) {
	results := make([]Result, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	if r.MaxConcurrent > 0 {
		g.SetLimit(r.MaxConcurrent)
	}
	for i, s := range sessions {
		g.Go(func() error {
			r.track(s)
			defer r.untrack(s)
			res := s.Run(gctx)
			results[i] = res
			if res.Status == StatusError && !r.ContinueOnError {
				return fmt.Errorf("session %d (channel %s): %s", i, res.Channel, res.Error)
			}
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

func (r *Runner) track(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		r.active = make(map[string]*Session)
	}
	r.active[s.ID()] = s
}

func (r *Runner) untrack(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, s.ID())
}

// Active snapshots the currently running sessions.
func (r *Runner) Active() []SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionStatus, 0, len(r.active))
	for _, s := range r.active {
		out = append(out, SessionStatus{
			SessionID:     s.ID(),
			Channel:       s.Channel(),
			MessagesCount: s.MessagesCount(),
			StartedAt:     s.StartedAt(),
		})
	}
	return out
}
