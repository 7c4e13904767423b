package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"

	cerrors "github.com/vinayprograms/agentcoord/errors"
	"github.com/vinayprograms/agentcoord/strategy"
)

// FileName is the configuration file looked up by Load.
const FileName = "agentcoord.toml"

// Duration is a time.Duration that decodes from TOML strings like "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return cerrors.InvalidInput("invalid duration "+string(text), cerrors.WithCause(err))
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the complete coordinator configuration.
type Config struct {
	MaxWorkers           int      `toml:"max_workers"`
	MaxRetries           int      `toml:"max_retries"`
	AssignmentStrategy   string   `toml:"assignment_strategy"`
	AdmissionTimeout     Duration `toml:"admission_timeout"`
	TaskTimeout          Duration `toml:"task_timeout"`
	OrchestratorDeadline Duration `toml:"orchestrator_deadline"`
	RetryBackoff         Duration `toml:"retry_backoff"`
	RetryBackoffMax      Duration `toml:"retry_backoff_max"`
	TaskRetention        Duration `toml:"task_retention"`
	LogLevel             string   `toml:"log_level"`

	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	NATS      NATSConfig      `toml:"nats"`
	Telemetry TelemetryConfig `toml:"telemetry"`

	Agents []AgentConfig `toml:"agents"`
}

// HeartbeatConfig controls liveness tracking.
type HeartbeatConfig struct {
	Interval           Duration `toml:"interval"`
	OfflineAfterMisses int      `toml:"offline_after_misses"`
	RemoveAfterMisses  int      `toml:"remove_after_misses"`
}

// NATSConfig enables the NATS bus when URL is set.
type NATSConfig struct {
	URL   string `toml:"url"`
	Name  string `toml:"name"`
	Token string `toml:"token"`
	User  string `toml:"user"`
	// Password is usually supplied through AGENTCOORD_NATS_PASSWORD.
	Password string `toml:"password"`
}

// TelemetryConfig selects exporters.
type TelemetryConfig struct {
	// Protocol is "file", "http" or "noop" for event export.
	Protocol string `toml:"protocol"`
	Endpoint string `toml:"endpoint"`

	// OTLPEndpoint enables span export when set.
	OTLPEndpoint string `toml:"otlp_endpoint"`
	OTLPProtocol string `toml:"otlp_protocol"`
	Insecure     bool   `toml:"insecure"`
	ServiceName  string `toml:"service_name"`

	// SampleRatio is the fraction of traces kept; zero keeps all.
	SampleRatio float64 `toml:"sample_ratio"`
}

// AgentConfig is a statically declared agent registered at startup.
type AgentConfig struct {
	ID           string            `toml:"id"`
	Capabilities []string          `toml:"capabilities"`
	Metadata     map[string]string `toml:"metadata"`
}

// Default returns configuration with defaults applied.
func Default() *Config {
	return &Config{
		MaxWorkers:           runtime.NumCPU(),
		MaxRetries:           3,
		AssignmentStrategy:   strategy.NameLeastLoaded,
		AdmissionTimeout:     Duration{50 * time.Millisecond},
		TaskTimeout:          Duration{5 * time.Minute},
		OrchestratorDeadline: Duration{30 * time.Second},
		RetryBackoff:         Duration{100 * time.Millisecond},
		RetryBackoffMax:      Duration{5 * time.Second},
		TaskRetention:        Duration{10 * time.Minute},
		LogLevel:             "info",
		Heartbeat: HeartbeatConfig{
			Interval:           Duration{5 * time.Second},
			OfflineAfterMisses: 3,
			RemoveAfterMisses:  12,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "noop",
			ServiceName: "agentcoord",
		},
	}
}

// StandardPaths returns the locations Load searches, in order.
func StandardPaths() []string {
	paths := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agentcoord", FileName))
	}
	return paths
}

// Load reads the first config file found in StandardPaths, or the defaults
// if there is none. Environment overrides are applied in both cases.
// Returns the path used (empty for defaults).
func Load() (*Config, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadFile(path)
			return cfg, path, err
		}
	}

	cfg := Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, "", err
	}
	return cfg, "", cfg.Validate()
}

// LoadFile reads a TOML file, applies environment overrides and validates.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to read config file", cerrors.WithMetadata("path", path))
	}
	cfg, err := Parse(string(content))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes TOML content over the defaults. Unknown keys are rejected.
func Parse(content string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(content, cfg)
	if err != nil {
		return nil, cerrors.InvalidInput("failed to parse config", cerrors.WithCause(err))
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, cerrors.InvalidInput("unknown config key "+undecoded[0].String())
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch {
	case c.MaxWorkers < 1:
		return cerrors.InvalidInput("max_workers must be at least 1")
	case c.MaxRetries < 1:
		return cerrors.InvalidInput("max_retries must be at least 1")
	case c.AdmissionTimeout.Duration < 0:
		return cerrors.InvalidInput("admission_timeout must not be negative")
	case c.TaskTimeout.Duration < 0:
		return cerrors.InvalidInput("task_timeout must not be negative")
	case c.OrchestratorDeadline.Duration <= 0:
		return cerrors.InvalidInput("orchestrator_deadline must be positive")
	case c.RetryBackoff.Duration < 0 || c.RetryBackoffMax.Duration < c.RetryBackoff.Duration:
		return cerrors.InvalidInput("retry_backoff_max must be at least retry_backoff")
	case c.Heartbeat.Interval.Duration <= 0:
		return cerrors.InvalidInput("heartbeat.interval must be positive")
	case c.Heartbeat.OfflineAfterMisses < 1:
		return cerrors.InvalidInput("heartbeat.offline_after_misses must be at least 1")
	case c.Heartbeat.RemoveAfterMisses != 0 && c.Heartbeat.RemoveAfterMisses <= c.Heartbeat.OfflineAfterMisses:
		return cerrors.InvalidInput("heartbeat.remove_after_misses must exceed offline_after_misses")
	case c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1:
		return cerrors.InvalidInput("telemetry.sample_ratio must be between 0 and 1")
	}

	if _, err := strategy.New(c.AssignmentStrategy); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return cerrors.InvalidInput("agents entry without id")
		}
		if seen[a.ID] {
			return cerrors.DuplicateAgent(a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}
