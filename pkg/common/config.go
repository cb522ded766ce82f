package common

import (
	"encoding/json"
	"os"
)

const (
	// DefaultConfigFile is the default configuration file name.
	DefaultConfigFile = "ic.config.json"
)

// Config is the IC server's full runtime configuration, loaded once at
// startup from a JSON file laid over DefaultConfig's values
// (pkg/common/defaults.go). No environment variable overrides a field.
type Config struct {
	// Server controls the RPC listener and address-file bootstrap.
	Server ServerConfig `json:"server,omitempty"`
	// Store configures the registry backends (C1).
	Store StoreConfig `json:"store,omitempty"`
	// RM configures the resource-manager adapter (C2).
	RM RMConfig `json:"rm,omitempty"`
	// IOSet configures the I/O-set admission controller (C4).
	IOSet IOSetConfig `json:"ioset,omitempty"`
	// Malleability configures the coordinator (C5).
	Malleability MalleabilityConfig `json:"malleability,omitempty"`
	// AdminAPI configures the read-only HTTP status surface.
	AdminAPI AdminAPIConfig `json:"admin_api,omitempty"`
	// Logging configures the structured logger.
	Logging LoggingConfig `json:"logging,omitempty"`
}

// ServerConfig holds the RPC listener's settings.
type ServerConfig struct {
	// Address to listen on, e.g. "0.0.0.0:0" (0 picks an ephemeral port).
	Address string `json:"address,omitempty"`
	// WorkerCount is the size of the fixed worker-identity pool. Every
	// worker runs any RPC; none is reserved for I/O hints. Values below 2
	// fall back to DefaultWorkerCount.
	WorkerCount int `json:"worker_count,omitempty"`
	// AddressFileOverride, if set, bypasses the $ADMIRE_DIR/$HOME/. search
	// order and writes the bootstrap address directly to this path.
	AddressFileOverride string `json:"address_file_override,omitempty"`
}

// StoreConfig configures the registry store adapter.
type StoreConfig struct {
	// BoltPath is the bbolt database file backing the live registry.
	BoltPath string `json:"bolt_path,omitempty"`
	// AuditDSN is the sqlite DSN for the best-effort audit ledger. Empty
	// disables the audit ledger entirely.
	AuditDSN string `json:"audit_dsn,omitempty"`
	// ListPageSize is loaded and saved with the config, but no component
	// reads it: the admin API lists clients in pages of 200 and the
	// malleability coordinator in pages of 4.
	ListPageSize int `json:"list_page_size,omitempty"`
}

// RMConfig configures the resource-manager adapter.
type RMConfig struct {
	// SlurmRestURL is the base URL of the slurmrestd endpoint.
	SlurmRestURL string `json:"slurm_rest_url,omitempty"`
	// SlurmRestToken authenticates against slurmrestd (JWT).
	SlurmRestToken string `json:"slurm_rest_token,omitempty"`
	// AllocBrokerURL is the base URL of the malleable-allocation sidecar
	// that alloc() calls out to for grow/shrink requests.
	AllocBrokerURL string `json:"alloc_broker_url,omitempty"`
	// AllocTimeoutMs bounds a single alloc() round trip.
	AllocTimeoutMs int `json:"alloc_timeout_ms,omitempty"`
}

// IOSetConfig configures the I/O-set admission controller.
type IOSetConfig struct {
	// OutputCSVPath is where iosets_out.csv rows are appended.
	OutputCSVPath string `json:"output_csv_path,omitempty"`
}

// MalleabilityConfig configures the coordinator.
type MalleabilityConfig struct {
	// DrainPageSize is loaded and saved with the config (default 4), but
	// the coordinator does not read it: it drains the registry in pages of
	// its own fixed drainPageSize (4).
	DrainPageSize int `json:"drain_page_size,omitempty"`
	// DrainPageCeiling is loaded and saved with the config (default 1024),
	// but the coordinator does not read it: it stops each pass at its own
	// fixed drainCeiling (1024 clients).
	DrainPageCeiling int `json:"drain_page_ceiling,omitempty"`
	// OutboundTimeoutMs is the per-client reconfigure/resalloc timeout
	// (spec default: 2000).
	OutboundTimeoutMs int `json:"outbound_timeout_ms,omitempty"`
	// DLQPath is the bbolt database backing the dead-letter log for
	// failed outbound calls.
	DLQPath string `json:"dlq_path,omitempty"`
}

// AdminAPIConfig configures the read-only HTTP status surface.
type AdminAPIConfig struct {
	// Enabled turns the admin HTTP API on or off.
	Enabled bool `json:"enabled,omitempty"`
	// Address to listen on, e.g. ":8090".
	Address string `json:"address,omitempty"`
	// RateLimitPerSecond bounds requests per client IP.
	RateLimitPerSecond int `json:"rate_limit_per_second,omitempty"`
	// CORSAllowedOrigins lists origins allowed to call the admin API.
	CORSAllowedOrigins []string `json:"cors_allowed_origins,omitempty"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the default log level name (trace, debug, info, warning,
	// error, critical). There are no per-client overrides.
	Level string `json:"level,omitempty"`
	// Console selects the human-readable console writer over structured
	// JSON; meant for interactive/dev use, not production log shipping.
	Console bool `json:"console,omitempty"`
}

// DefaultConfig returns a Config populated with the defaults declared in
// pkg/common/defaults.go.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:     "0.0.0.0:0",
			WorkerCount: DefaultWorkerCount,
		},
		Store: StoreConfig{
			BoltPath:     DefaultRegistryDBPath,
			ListPageSize: DefaultPageSize,
		},
		RM: RMConfig{
			AllocTimeoutMs: int(DefaultRPCTimeout.Milliseconds()),
		},
		IOSet: IOSetConfig{
			OutputCSVPath: DefaultIOSetCSVPath,
		},
		Malleability: MalleabilityConfig{
			DrainPageSize:     DefaultDrainPageSize,
			DrainPageCeiling:  DefaultDrainPageCeiling,
			OutboundTimeoutMs: int(DefaultOutboundTimeout.Milliseconds()),
			DLQPath:           DefaultDLQDBPath,
		},
		AdminAPI: AdminAPIConfig{
			Enabled:            true,
			Address:            ":8090",
			RateLimitPerSecond: 20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a JSON config file, applying DefaultConfig for any zero
// fields left unset. A missing file is not an error: the defaults alone
// are a valid configuration for local development.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if filename == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg as indented JSON to filename.
func SaveConfig(cfg *Config, filename string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}
