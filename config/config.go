// Package config loads the daemon configuration from a YAML file, with
// environment variables overriding the essentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type BlobConfig struct {
	// Backend selects the content store: "ipfs" or "local".
	Backend string `yaml:"backend"`
	// IPFSURL is the node API base, e.g. http://127.0.0.1:5001/api/v0.
	IPFSURL string `yaml:"ipfs_url"`
	// LocalPath is the badger directory for the local backend.
	LocalPath string `yaml:"local_path"`
	// MinFreeGB refuses to open the local backend below this threshold.
	MinFreeGB uint64 `yaml:"min_free_gb"`
}

type LedgerConfig struct {
	// RPCURL is the JSON-RPC gateway; empty disables recording.
	RPCURL string `yaml:"rpc_url"`
	// CredentialFile holds the signing seed; created when missing.
	CredentialFile string `yaml:"credential_file"`
}

// Duration makes time.Duration strings ("5s", "1m") usable in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }

type Config struct {
	DatabaseURL string       `yaml:"database_url"` // empty selects the in-memory store
	ListenAddr  string       `yaml:"listen_addr"`
	KeysDir     string       `yaml:"keys_dir"`
	Blob        BlobConfig   `yaml:"blob"`
	Ledger      LedgerConfig `yaml:"ledger"`
	ScorerURL   string       `yaml:"scorer_url"` // empty disables scoring
	CallTimeout Duration     `yaml:"call_timeout"`
	MaxDocBytes int64        `yaml:"max_doc_bytes"`
	KeyBits     int          `yaml:"key_bits"`
}

// Load reads path (optional) and applies env overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:  ":8080",
		KeysDir:     "keys",
		CallTimeout: Duration(30 * time.Second),
		MaxDocBytes: 16 << 20,
		Blob:        BlobConfig{Backend: "local", LocalPath: "blobs"},
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.ListenAddr = getenv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.KeysDir = getenv("KEYS_DIR", cfg.KeysDir)
	cfg.Blob.IPFSURL = getenv("IPFS_URL", cfg.Blob.IPFSURL)
	cfg.Ledger.RPCURL = getenv("LEDGER_RPC_URL", cfg.Ledger.RPCURL)
	cfg.ScorerURL = getenv("SCORER_URL", cfg.ScorerURL)

	switch cfg.Blob.Backend {
	case "ipfs":
		if cfg.Blob.IPFSURL == "" {
			return nil, fmt.Errorf("config: blob backend %q needs ipfs_url", cfg.Blob.Backend)
		}
	case "local":
		if cfg.Blob.LocalPath == "" {
			return nil, fmt.Errorf("config: blob backend %q needs local_path", cfg.Blob.Backend)
		}
	default:
		return nil, fmt.Errorf("config: unknown blob backend %q", cfg.Blob.Backend)
	}
	if cfg.Ledger.RPCURL != "" && cfg.Ledger.CredentialFile == "" {
		cfg.Ledger.CredentialFile = "ledger_credential.seed"
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
