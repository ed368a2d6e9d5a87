package config

import (
	"time"
)

// Duration wraps time.Duration so TOML and environment values can be
// written as "30s" or "5m".
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full node configuration. Every field has a working
// default, so an empty file (or no file at all) yields a runnable
// single-node directory.
type Config struct {
	Node        NodeConfig        `toml:"node"`
	Storage     StorageConfig     `toml:"storage"`
	Bus         BusConfig         `toml:"bus"`
	Directory   DirectoryConfig   `toml:"directory"`
	Trust       TrustConfig       `toml:"trust"`
	Discovery   DiscoveryConfig   `toml:"discovery"`
	Admission   AdmissionConfig   `toml:"admission"`
	Negotiation NegotiationConfig `toml:"negotiation"`
	Federation  FederationConfig  `toml:"federation"`
	Gateway     GatewayConfig     `toml:"gateway"`
	Logging     LoggingConfig     `toml:"logging"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID         string `toml:"id" envconfig:"ID"`
	ListenAddr string `toml:"listen_addr" envconfig:"LISTEN_ADDR"`

	// SelfURL is the address peers use to reach this node. Required
	// when federation is enabled.
	SelfURL string `toml:"self_url" envconfig:"SELF_URL"`
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	// Backend is "memory" or "bolt".
	Backend string `toml:"backend" envconfig:"BACKEND"`

	// Path is the bolt database file. Ignored for memory.
	Path string `toml:"path" envconfig:"PATH"`
}

// BusConfig selects the event bus.
type BusConfig struct {
	// Backend is "memory" or "nats".
	Backend string `toml:"backend" envconfig:"BACKEND"`

	// URL is the NATS server address. Ignored for memory.
	URL string `toml:"url" envconfig:"URL"`

	BufferSize int `toml:"buffer_size" envconfig:"BUFFER_SIZE"`
}

// DirectoryConfig tunes registration and health sweeping.
type DirectoryConfig struct {
	// RequireSigned rejects registrations without a manifest signature.
	RequireSigned bool `toml:"require_signed" envconfig:"REQUIRE_SIGNED"`

	// StaleAfter is how long an agent may stay silent before it is
	// marked offline.
	StaleAfter Duration `toml:"stale_after" envconfig:"STALE_AFTER"`

	SweepInterval Duration `toml:"sweep_interval" envconfig:"SWEEP_INTERVAL"`
}

// TrustConfig tunes the scoring engine's background cadence.
type TrustConfig struct {
	DecayInterval Duration `toml:"decay_interval" envconfig:"DECAY_INTERVAL"`
	FlushInterval Duration `toml:"flush_interval" envconfig:"FLUSH_INTERVAL"`
}

// DiscoveryConfig tunes search.
type DiscoveryConfig struct {
	CacheSize int `toml:"cache_size" envconfig:"CACHE_SIZE"`

	// IndexPath persists the semantic index on disk. Empty keeps it
	// in memory.
	IndexPath string `toml:"index_path" envconfig:"INDEX_PATH"`
}

// AdmissionConfig tunes rate limiting and proof-of-work.
type AdmissionConfig struct {
	DefaultQPS         float64  `toml:"default_qps" envconfig:"DEFAULT_QPS"`
	DefaultConcurrency int      `toml:"default_concurrency" envconfig:"DEFAULT_CONCURRENCY"`
	PoWDifficulty      int      `toml:"pow_difficulty" envconfig:"POW_DIFFICULTY"`
	PoWTTL             Duration `toml:"pow_ttl" envconfig:"POW_TTL"`

	// RequirePoW gates registration behind a solved challenge.
	RequirePoW bool `toml:"require_pow" envconfig:"REQUIRE_POW"`
}

// NegotiationConfig tunes session lifetimes.
type NegotiationConfig struct {
	SessionTTL Duration `toml:"session_ttl" envconfig:"SESSION_TTL"`
}

// FederationConfig tunes peer sync.
type FederationConfig struct {
	Enabled      bool     `toml:"enabled" envconfig:"ENABLED"`
	Peers        []string `toml:"peers" envconfig:"PEERS"`
	SyncInterval Duration `toml:"sync_interval" envconfig:"SYNC_INTERVAL"`
	PullTimeout  Duration `toml:"pull_timeout" envconfig:"PULL_TIMEOUT"`
}

// GatewayConfig tunes invocation transports.
type GatewayConfig struct {
	HTTPTimeout Duration `toml:"http_timeout" envconfig:"HTTP_TIMEOUT"`
	WSHandshake Duration `toml:"ws_handshake" envconfig:"WS_HANDSHAKE"`
	WSResponse  Duration `toml:"ws_response" envconfig:"WS_RESPONSE"`
}

// LoggingConfig tunes the logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `toml:"level" envconfig:"LEVEL"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Node: NodeConfig{
			ListenAddr: ":8470",
		},
		Storage: StorageConfig{
			Backend: "memory",
			Path:    "agentdir.db",
		},
		Bus: BusConfig{
			Backend:    "memory",
			URL:        "nats://127.0.0.1:4222",
			BufferSize: 256,
		},
		Directory: DirectoryConfig{
			StaleAfter:    Duration(5 * time.Minute),
			SweepInterval: Duration(30 * time.Second),
		},
		Trust: TrustConfig{
			DecayInterval: Duration(60 * time.Second),
			FlushInterval: Duration(10 * time.Second),
		},
		Discovery: DiscoveryConfig{
			CacheSize: 256,
		},
		Admission: AdmissionConfig{
			DefaultQPS:         5,
			DefaultConcurrency: 10,
			PoWDifficulty:      4,
			PoWTTL:             Duration(60 * time.Second),
		},
		Negotiation: NegotiationConfig{
			SessionTTL: Duration(5 * time.Minute),
		},
		Federation: FederationConfig{
			SyncInterval: Duration(60 * time.Second),
			PullTimeout:  Duration(5 * time.Second),
		},
		Gateway: GatewayConfig{
			HTTPTimeout: Duration(30 * time.Second),
			WSHandshake: Duration(10 * time.Second),
			WSResponse:  Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
