package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no ice servers", func(c *Config) { c.ICE.Servers = nil }},
		{"bad ice scheme", func(c *Config) { c.ICE.Servers = []ICEServer{{URLs: []string{"http://x"}}} }},
		{"bad store scheme", func(c *Config) { c.Store.URL = "https://relay" }},
		{"ptt without key", func(c *Config) { c.PTT.Enabled = true; c.PTT.Key = " " }},
		{"relay port zero", func(c *Config) { c.Relay.Port = 0 }},
		{"relay bad bind", func(c *Config) { c.Relay.Bind = "not-an-ip" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("want validation error")
			}
		})
	}
}

func TestEnsureCreatesThenLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bubbles.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Fatal("first Ensure must create the file")
	}
	if cfg.Relay.Port != Default().Relay.Port {
		t.Fatalf("created config = %+v", cfg)
	}

	cfg2, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if created {
		t.Fatal("second Ensure must load, not create")
	}
	if cfg2.Relay.Port != cfg.Relay.Port {
		t.Fatalf("reloaded config differs: %+v", cfg2)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bubbles.json")
	body := []byte(`{"ptt":{"enabled":true,"key":"f13"}}`)
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.PTT.Enabled || cfg.PTT.Key != "f13" {
		t.Fatalf("ptt = %+v", cfg.PTT)
	}
	// Untouched sections keep their defaults.
	if len(cfg.ICE.Servers) == 0 {
		t.Fatal("defaults lost on partial file")
	}
}

func TestLoadStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bubbles.json")
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"profile":{"display_name":"Alice"}}`)...)
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load with BOM: %v", err)
	}
	if cfg.Profile.DisplayName != "Alice" {
		t.Fatalf("profile = %+v", cfg.Profile)
	}
}
