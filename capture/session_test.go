package capture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/chat-tender/backend/capture"
	"github.com/onnwee/chat-tender/backend/testutil"
)

// Session lifecycle tests
//
// These exercise the controller end to end against scripted collaborators:
// timed record delivery, stop conditions, flush retry, and the idempotent
// finalize path. Timings are scaled down (milliseconds, not seconds) so the
// suite stays fast; the contract under test is ordering and counting, not
// wall-clock precision.

func newChatRecord(msg string) capture.ChatRecord {
	return capture.ChatRecord{
		Timestamp:   time.Now().UTC(),
		Channel:     "somechannel",
		Username:    "viewer1",
		DisplayName: "Viewer1",
		Message:     msg,
	}
}

func TestFixedDurationSessionCountsAndOrders(t *testing.T) {
	// 200ms session receiving 3 records at 10/90/150ms and none after:
	// result reports 3 messages and all 3 rows land in arrival order.
	src := testutil.NewScriptedSource(
		testutil.ScriptedRecord{After: 10 * time.Millisecond, Record: newChatRecord("first")},
		testutil.ScriptedRecord{After: 90 * time.Millisecond, Record: newChatRecord("second")},
		testutil.ScriptedRecord{After: 150 * time.Millisecond, Record: newChatRecord("third")},
	)
	sink := &testutil.FlakySink{}

	s, err := capture.NewSession(capture.SessionConfig{
		Channel:       "somechannel",
		Output:        "out.csv",
		Stop:          capture.StopAfterDuration,
		Duration:      200 * time.Millisecond,
		FlushInterval: 50 * time.Millisecond,
	}, src, sink)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	start := time.Now()
	res := s.Run(context.Background())
	elapsed := time.Since(start)

	if res.Status != capture.StatusSuccess {
		t.Fatalf("status = %q (%s), want success", res.Status, res.Error)
	}
	if res.MessagesCount != 3 {
		t.Errorf("messagesCount = %d, want 3", res.MessagesCount)
	}
	if elapsed < 200*time.Millisecond || elapsed > 2*time.Second {
		t.Errorf("session ran %v, want about 200ms", elapsed)
	}
	rows := sink.Rows()
	if len(rows) != 3 {
		t.Fatalf("sink has %d rows, want 3", len(rows))
	}
	for i, want := range []string{"first", "second", "third"} {
		if rows[i].Message != want {
			t.Errorf("rows[%d].Message = %q, want %q", i, rows[i].Message, want)
		}
	}
}

func TestMessagesCountIndependentOfFlushTiming(t *testing.T) {
	// With a flush interval far longer than the session, only the final
	// flush runs; the count and the rows must be unaffected.
	src := testutil.NewScriptedSource(
		testutil.ScriptedRecord{After: 5 * time.Millisecond, Record: newChatRecord("a")},
		testutil.ScriptedRecord{After: 20 * time.Millisecond, Record: newChatRecord("b")},
		testutil.ScriptedRecord{After: 40 * time.Millisecond, Record: newChatRecord("c")},
	)
	sink := &testutil.FlakySink{}
	s, err := capture.NewSession(capture.SessionConfig{
		Channel:       "somechannel",
		Output:        "out.csv",
		Stop:          capture.StopAfterDuration,
		Duration:      120 * time.Millisecond,
		FlushInterval: time.Hour,
	}, src, sink)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	res := s.Run(context.Background())
	if res.MessagesCount != 3 {
		t.Errorf("messagesCount = %d, want 3", res.MessagesCount)
	}
	if got := len(sink.Rows()); got != 3 {
		t.Errorf("sink rows = %d, want 3", got)
	}
}

func TestFlushRetryLosesNothing(t *testing.T) {
	// First append fails; the buffer is kept and the next tick retries.
	// Nothing is lost and nothing duplicated.
	src := testutil.NewScriptedSource(
		testutil.ScriptedRecord{After: 5 * time.Millisecond, Record: newChatRecord("keep-1")},
		testutil.ScriptedRecord{After: 10 * time.Millisecond, Record: newChatRecord("keep-2")},
	)
	sink := &testutil.FlakySink{FailAppends: 1}
	s, err := capture.NewSession(capture.SessionConfig{
		Channel:       "somechannel",
		Output:        "out.csv",
		Stop:          capture.StopAfterDuration,
		Duration:      180 * time.Millisecond,
		FlushInterval: 40 * time.Millisecond,
	}, src, sink)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	res := s.Run(context.Background())
	if res.Status != capture.StatusSuccess {
		t.Fatalf("status = %q (%s)", res.Status, res.Error)
	}
	rows := sink.Rows()
	if len(rows) != 2 {
		t.Fatalf("sink has %d rows, want 2", len(rows))
	}
	if rows[0].Message != "keep-1" || rows[1].Message != "keep-2" {
		t.Errorf("rows out of order: %q, %q", rows[0].Message, rows[1].Message)
	}
	if sink.Appends() < 2 {
		t.Errorf("expected a failed append plus a successful retry, got %d appends", sink.Appends())
	}
}

func TestEndSignalStopsSession(t *testing.T) {
	src := testutil.NewScriptedSource(
		testutil.ScriptedRecord{After: 5 * time.Millisecond, Record: newChatRecord("only")},
	)
	src.EndAfter = 50 * time.Millisecond
	sink := &testutil.FlakySink{}
	s, err := capture.NewSession(capture.SessionConfig{
		Channel:       "somechannel",
		Output:        "out.csv",
		Stop:          capture.StopOnStreamEnd,
		FlushInterval: 20 * time.Millisecond,
	}, src, sink)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	done := make(chan capture.Result, 1)
	go func() { done <- s.Run(context.Background()) }()
	select {
	case res := <-done:
		if res.Status != capture.StatusSuccess {
			t.Fatalf("status = %q (%s)", res.Status, res.Error)
		}
		if res.MessagesCount != 1 {
			t.Errorf("messagesCount = %d, want 1", res.MessagesCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop on end signal")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	src := testutil.NewScriptedSource(
		testutil.ScriptedRecord{After: 5 * time.Millisecond, Record: newChatRecord("x")},
	)
	sink := &testutil.FlakySink{}
	s, err := capture.NewSession(capture.SessionConfig{
		Channel:  "somechannel",
		Output:   "out.csv",
		Stop:     capture.StopAfterDuration,
		Duration: 50 * time.Millisecond,
	}, src, sink)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	res := s.Run(context.Background())
	if res.Status != capture.StatusSuccess {
		t.Fatalf("status = %q", res.Status)
	}

	// Run already finalized; further closes must be no-ops.
	if err := s.Close(); err != nil {
		t.Errorf("first extra Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second extra Close: %v", err)
	}
	if got := src.Disconnects(); got != 1 {
		t.Errorf("disconnect called %d times, want 1", got)
	}
	if got := sink.Closes(); got != 1 {
		t.Errorf("sink close called %d times, want 1", got)
	}
	if got := len(sink.Rows()); got != 1 {
		t.Errorf("sink rows = %d, want 1 (no double final flush)", got)
	}
}

func TestConnectFailureStillCleansUp(t *testing.T) {
	src := testutil.NewScriptedSource()
	src.ConnectErr = errors.New("login authentication failed")
	sink := &testutil.FlakySink{}
	s, err := capture.NewSession(capture.SessionConfig{
		Channel:  "somechannel",
		Output:   "out.csv",
		Stop:     capture.StopAfterDuration,
		Duration: 50 * time.Millisecond,
	}, src, sink)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	res := s.Run(context.Background())
	if res.Status != capture.StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
	if res.MessagesCount != 0 {
		t.Errorf("messagesCount = %d, want 0", res.MessagesCount)
	}
	// Disconnect must be safe even after a failed connect.
	if got := src.Disconnects(); got != 1 {
		t.Errorf("disconnect called %d times, want 1", got)
	}
}

func TestEnsureDestinationFailureSkipsConnect(t *testing.T) {
	src := testutil.NewScriptedSource()
	sink := &testutil.FlakySink{EnsureErr: capture.E(capture.KindIO, "create output directory", errors.New("permission denied"))}
	s, err := capture.NewSession(capture.SessionConfig{
		Channel:  "somechannel",
		Output:   "/root/forbidden/out.csv",
		Stop:     capture.StopAfterDuration,
		Duration: 50 * time.Millisecond,
	}, src, sink)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	res := s.Run(context.Background())
	if res.Status != capture.StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
	if got := src.Connects(); got != 0 {
		t.Errorf("source connected %d times despite unusable destination", got)
	}
}

func TestExternalCancellationRoutesThroughClose(t *testing.T) {
	src := testutil.NewScriptedSource(
		testutil.ScriptedRecord{After: 5 * time.Millisecond, Record: newChatRecord("before-cancel")},
	)
	sink := &testutil.FlakySink{}
	s, err := capture.NewSession(capture.SessionConfig{
		Channel:       "somechannel",
		Output:        "out.csv",
		Stop:          capture.StopOnStreamEnd, // would otherwise run forever
		FlushInterval: 20 * time.Millisecond,
	}, src, sink)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(60 * time.Millisecond)
		cancel()
	}()
	done := make(chan capture.Result, 1)
	go func() { done <- s.Run(ctx) }()
	select {
	case res := <-done:
		if res.MessagesCount != 1 {
			t.Errorf("messagesCount = %d, want 1", res.MessagesCount)
		}
		if got := len(sink.Rows()); got != 1 {
			t.Errorf("sink rows = %d, want 1 (final flush must run on cancellation)", got)
		}
		if got := src.Disconnects(); got != 1 {
			t.Errorf("disconnect called %d times, want 1", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finalize on cancellation")
	}
}

func TestNewSessionValidation(t *testing.T) {
	src := testutil.NewScriptedSource()
	sink := &testutil.FlakySink{}

	cases := []struct {
		name string
		cfg  capture.SessionConfig
	}{
		{"missing channel", capture.SessionConfig{Output: "out.csv", Stop: capture.StopAfterDuration, Duration: time.Second}},
		{"missing output", capture.SessionConfig{Channel: "c", Stop: capture.StopAfterDuration, Duration: time.Second}},
		{"missing duration", capture.SessionConfig{Channel: "c", Output: "out.csv", Stop: capture.StopAfterDuration}},
		{"hash only channel", capture.SessionConfig{Channel: "#", Output: "out.csv", Stop: capture.StopAfterDuration, Duration: time.Second}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := capture.NewSession(c.cfg, src, sink)
			if err == nil {
				t.Fatal("expected a config error")
			}
			if capture.KindOf(err) != capture.KindConfig {
				t.Errorf("kind = %v, want KindConfig", capture.KindOf(err))
			}
		})
	}
}

func TestChannelHashStripped(t *testing.T) {
	src := testutil.NewScriptedSource()
	sink := &testutil.FlakySink{}
	s, err := capture.NewSession(capture.SessionConfig{
		Channel:  "#SomeChannel",
		Output:   "out.csv",
		Stop:     capture.StopAfterDuration,
		Duration: 30 * time.Millisecond,
	}, src, sink)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.Channel() != "somechannel" {
		t.Errorf("Channel() = %q, want somechannel", s.Channel())
	}
	res := s.Run(context.Background())
	if res.Channel != "somechannel" {
		t.Errorf("result channel = %q, want somechannel", res.Channel)
	}
}
