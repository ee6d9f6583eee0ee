// Package testutil provides scripted fakes for the capture collaborators:
// a source that replays records on a schedule and a sink with programmable
// failures.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/chat-tender/backend/capture"
)

// ScriptedRecord pairs a record with a delay from source connect.
type ScriptedRecord struct {
	After  time.Duration
	Record capture.ChatRecord
}

// ScriptedSource implements capture.Source. On Connect it replays Script
// into the records channel at the configured offsets, then optionally emits
// an end signal.
type ScriptedSource struct {
	Script     []ScriptedRecord
	EndAfter   time.Duration // emit an end signal this long after connect; zero means never
	ConnectErr error

	records chan capture.ChatRecord
	ends    chan capture.EndSignal

	mu          sync.Mutex
	connects    int
	disconnects int
	cancel      context.CancelFunc
}

// NewScriptedSource builds a source replaying script.
func NewScriptedSource(script ...ScriptedRecord) *ScriptedSource {
	return &ScriptedSource{
		Script:  script,
		records: make(chan capture.ChatRecord, 64),
		ends:    make(chan capture.EndSignal, 1),
	}
}

func (s *ScriptedSource) Records() <-chan capture.ChatRecord { return s.records }
func (s *ScriptedSource) EndSignals() <-chan capture.EndSignal {
	return s.ends
}

func (s *ScriptedSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	playCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	start := time.Now()
	go func() {
		for _, sr := range s.Script {
			wait := sr.After - time.Since(start)
			if wait > 0 {
				select {
				case <-playCtx.Done():
					return
				case <-time.After(wait):
				}
			}
			select {
			case s.records <- sr.Record:
			case <-playCtx.Done():
				return
			}
		}
		if s.EndAfter > 0 {
			wait := s.EndAfter - time.Since(start)
			if wait > 0 {
				select {
				case <-playCtx.Done():
					return
				case <-time.After(wait):
				}
			}
			s.ends <- capture.EndSignal{Reason: "scripted"}
		}
	}()
	return nil
}

func (s *ScriptedSource) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Connects reports how many times Connect was called.
func (s *ScriptedSource) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Disconnects reports how many times Disconnect was called.
func (s *ScriptedSource) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

// FlakySink implements capture.SinkWriter in memory with programmable
// failures: the first FailAppends calls to AppendRows fail, later ones
// succeed. Rows records everything successfully appended, in order.
type FlakySink struct {
	FailAppends int
	EnsureErr   error

	mu      sync.Mutex
	ensures int
	appends int
	closes  int
	rows    []capture.ChatRecord
}

func (f *FlakySink) EnsureDestination(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures++
	return f.EnsureErr
}

func (f *FlakySink) AppendRows(ctx context.Context, rows []capture.ChatRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	if f.appends <= f.FailAppends {
		return capture.E(capture.KindSinkWrite, "scripted failure", nil)
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *FlakySink) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

// Rows returns a copy of the successfully appended rows in order.
func (f *FlakySink) Rows() []capture.ChatRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]capture.ChatRecord, len(f.rows))
	copy(out, f.rows)
	return out
}

// Appends reports how many AppendRows calls were made (including failures).
func (f *FlakySink) Appends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appends
}

// Closes reports how many Close calls were made.
func (f *FlakySink) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}
