// Package config handles the queue server's configuration loading (C9).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// searchPathsFunc is indirected so tests can point it at a scratch
// directory without touching the real search path.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/ocsqueue/config.yaml, /etc/ocsqueue/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ocsqueue", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/ocsqueue/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches searchPathsFunc() and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds the queue server's configuration (§4.7).
type Config struct {
	// Telescope selects which of JCMT or UKIRT this server instance runs
	// for; it gates manifest parsing (§6) and entity construction.
	Telescope string `yaml:"telescope"`

	// ManifestDir is where LOAD/ADD_BACK/ADD_FRONT/INSERT read entry
	// manifests from, and where the writer places freshly-timestamped
	// manifests it emits.
	ManifestDir string `yaml:"manifest_dir"`

	Backend   BackendConfig   `yaml:"backend"`
	ProjectDB ProjectDBConfig `yaml:"project_db"`

	// PendingAcceptsPath is the well-known persisted pending-accepts file
	// (§5, §6). Falls back to a file under os.TempDir() if empty.
	PendingAcceptsPath string `yaml:"pending_accepts_path"`

	// AuditDBPath is the SQLite audit trail for MSB accept/reject/ignore
	// decisions (C6 supplement). Falls back to a file under os.TempDir()
	// if empty.
	AuditDBPath string `yaml:"audit_db_path"`

	// PollIntervalMS is the recurring poll delay (default 1000, §5).
	PollIntervalMS int `yaml:"poll_interval_ms"`

	// QueueDurationThresholdMinutes bounds ADD_BACK/ADD_FRONT (default 40,
	// §4.4).
	QueueDurationThresholdMinutes int `yaml:"queue_duration_threshold_minutes"`

	Publisher PublisherConfig `yaml:"publisher"`

	// CommandListen is the bind address for the command RPC surface
	// (§4.4, §6).
	CommandListen string `yaml:"command_listen"`
	// CommandAuthSecret, if set, requires every /command/* request to carry
	// an X-Queue-Token header derived from this shared secret (§4.4
	// supplement). Empty disables the check, for local/dry-run use.
	CommandAuthSecret string `yaml:"command_auth_secret"`
	// MonitorListen is the bind address for the monitor websocket feed
	// and the /status and /metrics endpoints (§4.10, §6). May equal
	// CommandListen to serve everything from one process/port.
	MonitorListen string `yaml:"monitor_listen"`

	// QRCodeOutputPath, if set, receives a PNG encoding the monitor
	// websocket URL on startup (§6 supplement). Empty disables it.
	QRCodeOutputPath string `yaml:"qrcode_output_path"`

	// SimDB inhibits all project-database contact; RPCs are logged only
	// (§4.6, §9 glossary "simdb").
	SimDB bool `yaml:"simdb"`
	// NoComplete skips the accept-prompt lifecycle: MSBs are cut
	// immediately on completion (§4.6, §9 glossary "no-complete").
	NoComplete bool `yaml:"no_complete"`

	LogLevel string `yaml:"log_level"`
}

// BackendConfig selects and configures the instrument-controller transport
// (§4.9 supplement).
type BackendConfig struct {
	// Kind is "instrument", "scuba", or "sim". "sim" runs against
	// backend.FakeLink with no live broker, for dry-run/testing.
	Kind string     `yaml:"kind"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig mirrors backend.MQTTConfig's shape so it can be loaded from
// YAML without the config package importing backend.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// ProjectDBConfig configures the project-database RPC client (C10).
type ProjectDBConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured RPC timeout as a time.Duration.
func (c ProjectDBConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PublisherConfig mirrors publisher.Config's shape (§9: fixed cell width
// default 110, fixed slot count default 200).
type PublisherConfig struct {
	CellWidth    int `yaml:"cell_width"`
	MaxSlots     int `yaml:"max_slots"`
	HistoryLimit int `yaml:"history_limit"`
}

// PollInterval returns the configured poll delay as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// QueueDurationThreshold returns the configured ADD_BACK/ADD_FRONT
// threshold as a time.Duration.
func (c *Config) QueueDurationThreshold() time.Duration {
	return time.Duration(c.QueueDurationThresholdMinutes) * time.Minute
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${PROJECTDB_URL}). A convenience
	// for container deployments; the recommended approach is to put values
	// directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.PollIntervalMS == 0 {
		c.PollIntervalMS = 1000
	}
	if c.QueueDurationThresholdMinutes == 0 {
		c.QueueDurationThresholdMinutes = 40
	}
	if c.Publisher.CellWidth == 0 {
		c.Publisher.CellWidth = 110
	}
	if c.Publisher.MaxSlots == 0 {
		c.Publisher.MaxSlots = 200
	}
	if c.Publisher.HistoryLimit == 0 {
		c.Publisher.HistoryLimit = 200
	}
	if c.ProjectDB.TimeoutSeconds == 0 {
		c.ProjectDB.TimeoutSeconds = 5
	}
	if c.Backend.Kind == "" {
		c.Backend.Kind = "sim"
	}
	if c.PendingAcceptsPath == "" {
		c.PendingAcceptsPath = filepath.Join(os.TempDir(), "ocsqueue-pending-accepts.json")
	}
	if c.AuditDBPath == "" {
		c.AuditDBPath = filepath.Join(os.TempDir(), "ocsqueue-audit.db")
	}
	if c.CommandListen == "" {
		c.CommandListen = ":8090"
	}
	if c.MonitorListen == "" {
		c.MonitorListen = c.CommandListen
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	switch c.Telescope {
	case "JCMT", "UKIRT":
	default:
		return fmt.Errorf("telescope %q must be JCMT or UKIRT", c.Telescope)
	}
	if c.ManifestDir == "" {
		return fmt.Errorf("manifest_dir must be set")
	}
	switch c.Backend.Kind {
	case "instrument", "scuba", "sim":
	default:
		return fmt.Errorf("backend.kind %q must be instrument, scuba, or sim", c.Backend.Kind)
	}
	if c.Backend.Kind != "sim" && c.Backend.MQTT.Broker == "" {
		return fmt.Errorf("backend.mqtt.broker must be set for backend.kind %q", c.Backend.Kind)
	}
	if !c.SimDB && c.ProjectDB.BaseURL == "" {
		return fmt.Errorf("project_db.base_url must be set unless simdb is enabled")
	}
	if c.PollIntervalMS < 1 {
		return fmt.Errorf("poll_interval_ms %d must be positive", c.PollIntervalMS)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local development
// against a simulated backend and a simulated project database. All
// defaults are already applied.
func Default() *Config {
	cfg := &Config{
		Telescope: "JCMT",
		SimDB:     true,
	}
	cfg.applyDefaults()
	return cfg
}
