package app

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	ModeNotify = "notify"
	ModePoll   = "poll"
)

type Config struct {
	EVE        EVEConfig
	Model      ModelConfig
	Dedup      DedupConfig
	Output     OutputConfig
	Quarantine QuarantineConfig
	Logging    LoggingConfig
	Replay     ReplayConfig
}

type EVEConfig struct {
	Path         string
	Mode         string
	PollInterval time.Duration
}

type ModelConfig struct {
	VectorizerPath string
	WeightsPath    string
	RemoteURL      string
	RemoteTimeout  time.Duration
}

type DedupConfig struct {
	MaxSeen   int
	StatePath string
}

type OutputConfig struct {
	CSVPath        string
	JSONLPath      string
	MetricsEnabled bool
	MetricsPort    string
}

type QuarantineConfig struct {
	Path string
}

type LoggingConfig struct {
	Level  string
	Pretty bool
}

type ReplayConfig struct {
	Target  string
	Delay   time.Duration
	Timeout time.Duration
	Limit   int
	Seed    int64
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("eve.path", "/var/log/suricata/eve.json")
	v.SetDefault("eve.mode", ModeNotify)
	v.SetDefault("eve.poll_interval", 250*time.Millisecond)
	v.SetDefault("model.vectorizer_path", "./models/vectorizer.json")
	v.SetDefault("model.weights_path", "./models/model.json")
	v.SetDefault("model.remote_url", "")
	v.SetDefault("model.remote_timeout", 5*time.Second)
	v.SetDefault("dedup.max_seen", 0)
	v.SetDefault("dedup.state_path", "")
	v.SetDefault("output.csv_path", "./data/results.csv")
	v.SetDefault("output.jsonl_path", "")
	v.SetDefault("output.metrics.enabled", true)
	v.SetDefault("output.metrics.port", ":9090")
	v.SetDefault("quarantine.path", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", true)
	v.SetDefault("replay.target", "http://localhost:8080")
	v.SetDefault("replay.delay", time.Second)
	v.SetDefault("replay.timeout", 2*time.Second)
	v.SetDefault("replay.limit", 0)
	v.SetDefault("replay.seed", 42)
}

// LoadConfig reads every key from v. It does not validate.
func LoadConfig(v *viper.Viper) *Config {
	return &Config{
		EVE: EVEConfig{
			Path:         v.GetString("eve.path"),
			Mode:         strings.ToLower(v.GetString("eve.mode")),
			PollInterval: v.GetDuration("eve.poll_interval"),
		},
		Model: ModelConfig{
			VectorizerPath: v.GetString("model.vectorizer_path"),
			WeightsPath:    v.GetString("model.weights_path"),
			RemoteURL:      v.GetString("model.remote_url"),
			RemoteTimeout:  v.GetDuration("model.remote_timeout"),
		},
		Dedup: DedupConfig{
			MaxSeen:   v.GetInt("dedup.max_seen"),
			StatePath: v.GetString("dedup.state_path"),
		},
		Output: OutputConfig{
			CSVPath:        v.GetString("output.csv_path"),
			JSONLPath:      v.GetString("output.jsonl_path"),
			MetricsEnabled: v.GetBool("output.metrics.enabled"),
			MetricsPort:    v.GetString("output.metrics.port"),
		},
		Quarantine: QuarantineConfig{
			Path: v.GetString("quarantine.path"),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(v.GetString("logging.level")),
			Pretty: v.GetBool("logging.pretty"),
		},
		Replay: ReplayConfig{
			Target:  v.GetString("replay.target"),
			Delay:   v.GetDuration("replay.delay"),
			Timeout: v.GetDuration("replay.timeout"),
			Limit:   v.GetInt("replay.limit"),
			Seed:    v.GetInt64("replay.seed"),
		},
	}
}

// Validate checks the keys used by the watch command.
func (c *Config) Validate() error {
	if c.EVE.Path == "" {
		return &ConfigValidationError{Field: "eve.path", Value: c.EVE.Path, Reason: "must not be empty"}
	}
	if c.EVE.Mode != ModeNotify && c.EVE.Mode != ModePoll {
		return &ConfigValidationError{Field: "eve.mode", Value: c.EVE.Mode, Reason: "must be notify or poll"}
	}
	if c.EVE.PollInterval < 0 {
		return &ConfigValidationError{Field: "eve.poll_interval", Value: c.EVE.PollInterval, Reason: "must not be negative"}
	}
	if c.Model.VectorizerPath == "" {
		return &ConfigValidationError{Field: "model.vectorizer_path", Value: c.Model.VectorizerPath, Reason: "must not be empty"}
	}
	if c.Model.RemoteURL == "" && c.Model.WeightsPath == "" {
		return &ConfigValidationError{Field: "model.weights_path", Value: c.Model.WeightsPath, Reason: "required unless model.remote_url is set"}
	}
	if c.Model.RemoteURL != "" {
		if err := validateHTTPURL(c.Model.RemoteURL); err != nil {
			return &ConfigValidationError{Field: "model.remote_url", Value: c.Model.RemoteURL, Reason: err.Error()}
		}
	}
	if c.Model.RemoteTimeout <= 0 {
		return &ConfigValidationError{Field: "model.remote_timeout", Value: c.Model.RemoteTimeout, Reason: "must be positive"}
	}
	if c.Dedup.MaxSeen < 0 {
		return &ConfigValidationError{Field: "dedup.max_seen", Value: c.Dedup.MaxSeen, Reason: "must be 0 (unbounded) or positive"}
	}
	if c.Output.CSVPath == "" {
		return &ConfigValidationError{Field: "output.csv_path", Value: c.Output.CSVPath, Reason: "must not be empty"}
	}
	if c.Output.MetricsEnabled && c.Output.MetricsPort == "" {
		return &ConfigValidationError{Field: "output.metrics.port", Value: c.Output.MetricsPort, Reason: "required when metrics are enabled"}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ConfigValidationError{Field: "logging.level", Value: c.Logging.Level, Reason: "must be debug, info, warn or error"}
	}
	return nil
}

// ValidateReplay checks the keys used by the replay command.
func (c *Config) ValidateReplay() error {
	if err := validateHTTPURL(c.Replay.Target); err != nil {
		return &ConfigValidationError{Field: "replay.target", Value: c.Replay.Target, Reason: err.Error()}
	}
	if c.Replay.Delay < 0 {
		return &ConfigValidationError{Field: "replay.delay", Value: c.Replay.Delay, Reason: "must not be negative"}
	}
	if c.Replay.Timeout <= 0 {
		return &ConfigValidationError{Field: "replay.timeout", Value: c.Replay.Timeout, Reason: "must be positive"}
	}
	if c.Replay.Limit < 0 {
		return &ConfigValidationError{Field: "replay.limit", Value: c.Replay.Limit, Reason: "must be 0 (all rows) or positive"}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

type ConfigValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s = %v - %s", e.Field, formatValue(e.Value), e.Reason)
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	case nil:
		return "<nil>"
	default:
		return fmt.Sprint(val)
	}
}

// ConfigWatcher re-reads the config file when it changes and hands the new,
// validated Config to onChange. Invalid files are rejected and the current
// configuration stays in effect. Only settings that can change at runtime
// (the log level) are expected to be applied by onChange.
type ConfigWatcher struct {
	v        *viper.Viper
	onChange func(*Config)
	mu       sync.Mutex
	stopOnce sync.Once
	stopped  bool
}

func NewConfigWatcher(v *viper.Viper, onChange func(*Config)) *ConfigWatcher {
	return &ConfigWatcher{v: v, onChange: onChange}
}

func (w *ConfigWatcher) Start() {
	if w.v.ConfigFileUsed() == "" {
		log.Debug().Msg("No config file in use, config watching disabled")
		return
	}

	w.v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().
			Str("file", e.Name).
			Str("op", e.Op.String()).
			Msg("Config file changed, reloading...")
		w.reload()
	})
	w.v.WatchConfig()
	log.Info().Str("config", w.v.ConfigFileUsed()).Msg("Config watching started")
}

func (w *ConfigWatcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	cfg := LoadConfig(w.v)
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration, rejecting reload")
		return
	}
	if w.onChange != nil {
		w.onChange(cfg)
	}
	log.Info().Str("log_level", cfg.Logging.Level).Msg("Configuration reloaded")
}

// Stop makes later change notifications no-ops. viper offers no way to remove
// its watch.
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
	})
}
