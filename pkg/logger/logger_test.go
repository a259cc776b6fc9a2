package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInitSwitchesMode(t *testing.T) {
	defer Init("production")

	Init("development")
	if Get() == nil {
		t.Fatal("Get() returned nil after Init(development)")
	}
	Init("production")
	if Get() == nil {
		t.Fatal("Get() returned nil after Init(production)")
	}
}

func TestInitWithFileCreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	defer func() {
		ShutdownFileHandler()
		Init("production")
	}()

	if err := InitWithFile(dir); err != nil {
		t.Fatalf("InitWithFile: %v", err)
	}
	Info("hello from test", FieldSession, "s-1")
	ShutdownFileHandler()

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(dir, "chatd-"+date+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Fatalf("log file missing entry, got: %s", data)
	}
	if !strings.Contains(string(data), `"session_id":"s-1"`) {
		t.Fatalf("log file missing structured field, got: %s", data)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext should return default logger for empty context")
	}
}

func TestWithContextRoundTrip(t *testing.T) {
	custom := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := WithContext(context.Background(), custom)
	if FromContext(ctx) != custom {
		t.Fatal("FromContext should return the injected logger")
	}
}
