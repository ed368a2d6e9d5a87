package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces environment overrides, e.g. AGENTDIR_NODE_ID.
const envPrefix = "AGENTDIR"

// searchPaths lists where Load looks for a config file, in order.
func searchPaths() []string {
	paths := []string{"agentdir.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agentdir", "config.toml"))
		paths = append(paths, filepath.Join(home, ".agentdir", "config.toml"))
	}
	return paths
}

// Load reads configuration with the usual precedence: defaults, then
// the first config file found (or the explicit path if given), then
// AGENTDIR_* environment variables on top.
func Load(explicitPath string) (Config, error) {
	cfg := Default()

	path := explicitPath
	if path == "" {
		if env := os.Getenv(envPrefix + "_CONFIG"); env != "" {
			path = env
		}
	}
	if path == "" {
		for _, candidate := range searchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("environment overrides: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	sections := []struct {
		prefix string
		target interface{}
	}{
		{envPrefix + "_NODE", &cfg.Node},
		{envPrefix + "_STORAGE", &cfg.Storage},
		{envPrefix + "_BUS", &cfg.Bus},
		{envPrefix + "_DIRECTORY", &cfg.Directory},
		{envPrefix + "_TRUST", &cfg.Trust},
		{envPrefix + "_DISCOVERY", &cfg.Discovery},
		{envPrefix + "_ADMISSION", &cfg.Admission},
		{envPrefix + "_NEGOTIATION", &cfg.Negotiation},
		{envPrefix + "_FEDERATION", &cfg.Federation},
		{envPrefix + "_GATEWAY", &cfg.Gateway},
		{envPrefix + "_LOGGING", &cfg.Logging},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects configurations that cannot start.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "bolt":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "bolt" && c.Storage.Path == "" {
		return fmt.Errorf("bolt storage requires a path")
	}

	switch c.Bus.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("unknown bus backend %q", c.Bus.Backend)
	}
	if c.Bus.Backend == "nats" && c.Bus.URL == "" {
		return fmt.Errorf("nats bus requires a url")
	}

	if c.Federation.Enabled && c.Node.SelfURL == "" {
		return fmt.Errorf("federation requires node.self_url")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	if c.Admission.PoWDifficulty < 1 || c.Admission.PoWDifficulty > 16 {
		return fmt.Errorf("pow difficulty %d out of range", c.Admission.PoWDifficulty)
	}
	return nil
}
