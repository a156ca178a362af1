package logging

import (
	"testing"

	"mv-hedge-bot/internal/config"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("level %q: expected %v, got %v", in, want, got)
		}
	}
}

func TestNewRespectsConfiguredLevel(t *testing.T) {
	log := New(config.LoggingConfig{Level: "error"})
	defer log.Sync()
	if log.Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("warn must be disabled at error level")
	}
	if !log.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("error must be enabled at error level")
	}
}
