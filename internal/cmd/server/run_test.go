package serverrun

import (
	"context"
	"testing"
	"time"

	cfgpkg "github.com/kilnmq/kiln/internal/config"
)

func TestRunStopsOnCancel(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.Fsync = "never"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, Options{Config: cfg}) }()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop on cancel")
	}
}

func TestGetenvDefault(t *testing.T) {
	old := getenv
	defer func() { getenv = old }()
	getenv = func(key string) string {
		if key == "SET" {
			return "value"
		}
		return ""
	}
	if got := getenvDefault("SET", "fallback"); got != "value" {
		t.Fatalf("set: %q", got)
	}
	if got := getenvDefault("UNSET", "fallback"); got != "fallback" {
		t.Fatalf("unset: %q", got)
	}
}
