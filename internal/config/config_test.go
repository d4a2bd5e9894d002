package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Host == "" {
		t.Error("expected a default host")
	}
	if cfg.Port == 0 {
		t.Error("expected a default port")
	}
	if cfg.DefaultStrategy == "" {
		t.Error("expected a default allocation strategy")
	}
}

func TestAddress(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1", Port: 32145}
	if got, want := cfg.Address(), "127.0.0.1:32145"; got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}
