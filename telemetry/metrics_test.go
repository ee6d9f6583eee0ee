package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestHelpersSafeBeforeInit(t *testing.T) {
	// Helpers must be no-ops before Init so library code never needs to know
	// whether metrics were set up.
	SessionStarted()
	SessionEnded()
	CountMessage()
	ObserveFlush(10*time.Millisecond, 5)
	CountFlushFailure()
	SetBufferDepth(3)
}

func TestInitIdempotent(t *testing.T) {
	Init()
	first := MessagesCaptured
	Init() // a second call must not re-register
	if MessagesCaptured != first {
		t.Error("Init replaced collectors on second call")
	}
	if SessionsActiveGauge == nil || FlushDuration == nil {
		t.Error("Init left collectors nil")
	}
}

func TestCorrelationContext(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("empty context carries correlation %q", got)
	}
	ctx = WithCorrelation(ctx, "corr-456")
	if got := GetCorrelation(ctx); got != "corr-456" {
		t.Errorf("GetCorrelation = %q", got)
	}
}
