package audioio

import (
	"testing"
	"time"
)

func TestNewSink_Mock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock

	sink, err := NewSink(cfg, nil)
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}
	defer sink.Close()

	if sink.Name() != "mock" {
		t.Errorf("Expected mock backend, got %s", sink.Name())
	}
}

func TestNewSink_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero rate", func(c *Config) { c.SampleRate = 0 }},
		{"zero channels", func(c *Config) { c.Channels = 0 }},
		{"zero buffer", func(c *Config) { c.BufferDuration = 0 }},
		{"unknown backend", func(c *Config) { c.Backend = "jack" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if _, err := NewSink(cfg, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAvailableBackends(t *testing.T) {
	backends := AvailableBackends()
	if len(backends) == 0 || backends[len(backends)-1] != BackendMock {
		t.Errorf("mock should always be the last available backend, got %v", backends)
	}
}

func TestPlayerArgs(t *testing.T) {
	cfg := Config{SampleRate: 24000, Channels: 1, BufferDuration: 20 * time.Millisecond, Device: "hw:1,0"}

	prog, args, err := playerArgs(BackendALSA, cfg)
	if err != nil || prog != "aplay" {
		t.Fatalf("alsa: %s %v", prog, err)
	}
	if !contains(args, "24000") || !contains(args, "hw:1,0") || !contains(args, "S16_LE") {
		t.Errorf("aplay args = %v", args)
	}

	prog, args, err = playerArgs(BackendPulse, cfg)
	if err != nil || prog != "pacat" {
		t.Fatalf("pulse: %s %v", prog, err)
	}
	if !contains(args, "--rate=24000") || !contains(args, "--device=hw:1,0") {
		t.Errorf("pacat args = %v", args)
	}

	if _, _, err := playerArgs(BackendMock, cfg); err == nil {
		t.Error("mock has no player")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
