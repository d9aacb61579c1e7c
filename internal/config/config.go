package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Queue contains durable queue tuning.
type Queue struct {
	VisibilityTimeout int `toml:"visibility_timeout"`
	MaxDeliveries     int `toml:"max_deliveries"`
	ReceiveIdleWait   int `toml:"receive_idle_wait"`
}

// Workflow contains state machine tuning for the polling loop.
type Workflow struct {
	WorkerCount       int     `toml:"worker_count"`
	MaxAttempts       int     `toml:"max_attempts"`
	PollBackoffBase   int     `toml:"poll_backoff_base"`
	PollBackoffCap    int     `toml:"poll_backoff_cap"`
	PollBackoffJitter float64 `toml:"poll_backoff_jitter"`
	CallRetryAttempts int     `toml:"call_retry_attempts"`
}

// Converter contains the external conversion service endpoint settings.
type Converter struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Bus contains NATS connection and subject configuration.
type Bus struct {
	URL               string `toml:"url"`
	InputSubject      string `toml:"input_subject"`
	CompletionSubject string `toml:"completion_subject"`
}

// Notifications contains ntfy push settings for dead-letter alerts.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains log output configuration.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// API contains the HTTP status API configuration.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Config encapsulates all configuration values for Conveyor.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Queue: visibility timeout and redrive policy
//   - Workflow: worker pool size, polling attempt budget, backoff curve
//   - Converter: external conversion service endpoint
//   - Bus: NATS subjects for ingestion and completion events
//   - Notifications: ntfy dead-letter alerts
//   - Logging: log format and level
//   - API: HTTP status API bind address and token
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Workflow      Workflow      `toml:"workflow"`
	Converter     Converter     `toml:"converter"`
	Bus           Bus           `toml:"bus"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	API           API           `toml:"api"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/conveyor/config.toml")
}

// Load locates, parses, and validates a configuration file. When path is empty
// the default location is used; a missing file yields the defaults. The
// resolved path is returned alongside the config.
func Load(path string) (*Config, string, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, "", err
		}
		resolved = defaultPath
	} else {
		expanded, err := expandPath(resolved)
		if err != nil {
			return nil, "", err
		}
		resolved = expanded
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if normErr := cfg.normalize(); normErr != nil {
				return nil, resolved, normErr
			}
			return &cfg, resolved, nil
		}
		return nil, resolved, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, resolved, fmt.Errorf("parse config %s: %w", resolved, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, resolved, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, resolved, err
	}
	return &cfg, resolved, nil
}

// Validate checks configuration invariants that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.Queue.VisibilityTimeout <= 0 {
		return errors.New("config: queue.visibility_timeout must be positive")
	}
	if c.Queue.MaxDeliveries <= 0 {
		return errors.New("config: queue.max_deliveries must be positive")
	}
	if c.Workflow.WorkerCount <= 0 {
		return errors.New("config: workflow.worker_count must be positive")
	}
	if c.Workflow.MaxAttempts <= 0 {
		return errors.New("config: workflow.max_attempts must be positive")
	}
	if c.Workflow.PollBackoffBase <= 0 || c.Workflow.PollBackoffCap < c.Workflow.PollBackoffBase {
		return errors.New("config: workflow poll backoff base must be positive and not exceed the cap")
	}
	if c.Workflow.PollBackoffJitter < 0 || c.Workflow.PollBackoffJitter >= 1 {
		return errors.New("config: workflow.poll_backoff_jitter must be in [0, 1)")
	}
	return nil
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the SQLite database backing the queue
// and status store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "conveyor.db")
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	c.Converter.BaseURL = strings.TrimRight(strings.TrimSpace(c.Converter.BaseURL), "/")
	c.Bus.URL = strings.TrimSpace(c.Bus.URL)
	c.Bus.InputSubject = strings.TrimSpace(c.Bus.InputSubject)
	c.Bus.CompletionSubject = strings.TrimSpace(c.Bus.CompletionSubject)
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", trimmed, err)
	}
	return abs, nil
}
