package logger_test

import (
	"testing"

	"github.com/evdnx/gridbot/logger"
	"github.com/evdnx/gridbot/testutils"
)

func TestMockLogger(t *testing.T) {
	l := testutils.NewMockLogger()
	l.Info("hello", logger.String("k", "v"))
	if got := l.LastMessage(); got != "hello" {
		t.Fatalf("expected last message 'hello', got %q", got)
	}
}

func TestNopLoggerIsSilent(t *testing.T) {
	l := logger.Nop()
	// must not panic with nil fields or empty messages
	l.Info("")
	l.Warn("w", logger.Float64("x", 1.0))
	l.Error("e", logger.Err(nil))
}
