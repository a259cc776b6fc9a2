package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("ListenAddr = %q, want 127.0.0.1:9000", cfg.ListenAddr)
	}
	if cfg.SessionTTLMin != 30 {
		t.Fatalf("SessionTTLMin = %d, want 30", cfg.SessionTTLMin)
	}
	if cfg.MCPServersPath != "servers.yaml" {
		t.Fatalf("MCPServersPath = %q, want servers.yaml", cfg.MCPServersPath)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("CHATD_LISTEN_ADDR", "0.0.0.0:8080")
	t.Setenv("SESSION_QUEUE_SIZE", "8") // below min → clamp

	cfg := Load()
	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Fatalf("ListenAddr = %q, want 0.0.0.0:8080", cfg.ListenAddr)
	}
	if cfg.SessionQueueSize != 16 {
		t.Fatalf("SessionQueueSize = %d, want 16 (min clamp)", cfg.SessionQueueSize)
	}
}
