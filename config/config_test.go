package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Directory.StaleAfter.Std() != 5*time.Minute {
		t.Errorf("stale_after = %v", cfg.Directory.StaleAfter.Std())
	}
	if cfg.Admission.PoWDifficulty != 4 {
		t.Errorf("pow_difficulty = %d", cfg.Admission.PoWDifficulty)
	}
	if cfg.Trust.DecayInterval.Std() != time.Minute {
		t.Errorf("decay_interval = %v", cfg.Trust.DecayInterval.Std())
	}
}

func TestLoadExplicitMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for explicit missing file")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentdir.toml")
	body := `
[node]
id = "node-1"
listen_addr = ":9000"

[storage]
backend = "bolt"
path = "/tmp/dir.db"

[directory]
stale_after = "10m"

[federation]
enabled = false
peers = ["http://peer-a", "http://peer-b"]
sync_interval = "2m"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.ID != "node-1" || cfg.Node.ListenAddr != ":9000" {
		t.Errorf("node = %+v", cfg.Node)
	}
	if cfg.Storage.Backend != "bolt" || cfg.Storage.Path != "/tmp/dir.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Directory.StaleAfter.Std() != 10*time.Minute {
		t.Errorf("stale_after = %v", cfg.Directory.StaleAfter.Std())
	}
	if len(cfg.Federation.Peers) != 2 {
		t.Errorf("peers = %v", cfg.Federation.Peers)
	}
	if cfg.Federation.SyncInterval.Std() != 2*time.Minute {
		t.Errorf("sync_interval = %v", cfg.Federation.SyncInterval.Std())
	}
	// Untouched sections keep their defaults.
	if cfg.Admission.DefaultQPS != 5 {
		t.Errorf("default_qps = %v", cfg.Admission.DefaultQPS)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("AGENTDIR_NODE_ID", "env-node")
	t.Setenv("AGENTDIR_TRUST_DECAY_INTERVAL", "90s")
	t.Setenv("AGENTDIR_ADMISSION_POW_DIFFICULTY", "6")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.ID != "env-node" {
		t.Errorf("node id = %q", cfg.Node.ID)
	}
	if cfg.Trust.DecayInterval.Std() != 90*time.Second {
		t.Errorf("decay_interval = %v", cfg.Trust.DecayInterval.Std())
	}
	if cfg.Admission.PoWDifficulty != 6 {
		t.Errorf("pow_difficulty = %d", cfg.Admission.PoWDifficulty)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad storage backend", func(c *Config) { c.Storage.Backend = "redis" }},
		{"bolt without path", func(c *Config) { c.Storage.Backend = "bolt"; c.Storage.Path = "" }},
		{"bad bus backend", func(c *Config) { c.Bus.Backend = "kafka" }},
		{"federation without self url", func(c *Config) { c.Federation.Enabled = true; c.Node.SelfURL = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"pow difficulty zero", func(c *Config) { c.Admission.PoWDifficulty = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("150ms")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d.Std() != 150*time.Millisecond {
		t.Fatalf("parsed %v", d.Std())
	}
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(text) != "150ms" {
		t.Fatalf("rendered %q", text)
	}

	if err := d.UnmarshalText([]byte("not a duration")); err == nil {
		t.Fatal("expected parse error")
	}
}
