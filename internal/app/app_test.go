package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/config"
)

func TestAppServesAndShutsDown(t *testing.T) {
	cfg := config.Default().Server
	cfg.Addr = "127.0.0.1:0"
	cfg.DatabasePath = filepath.Join(t.TempDir(), "convosync.db")
	cfg.ShutdownTimeout = time.Second

	logger := zerolog.Nop()
	application, err := New(cfg, &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	select {
	case <-application.Ready():
	case err := <-done:
		t.Fatalf("app exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("app did not start listening")
	}

	resp, err := http.Get("http://" + application.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected health status: %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("app did not shut down")
	}
}

func TestNewRejectsEmptySecret(t *testing.T) {
	cfg := config.Default().Server
	cfg.JWTSecret = ""
	cfg.DatabasePath = filepath.Join(t.TempDir(), "convosync.db")

	logger := zerolog.Nop()
	if _, err := New(cfg, &logger); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
