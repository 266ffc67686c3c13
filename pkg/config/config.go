package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/quantomatic/quanto-client/pkg/core/client"
	"github.com/quantomatic/quanto-client/pkg/core/protocol"
	"github.com/quantomatic/quanto-client/pkg/telemetry"
	"github.com/quantomatic/quanto-client/pkg/transports/ssh"
)

// Config is the complete client configuration.
type Config struct {
	Core CoreConfig `yaml:"core"`

	// Remote, when set, runs the core on another host over SSH.
	Remote *ssh.Config `yaml:"remote"`

	Transcript TranscriptConfig `yaml:"transcript"`

	Console ConsoleConfig `yaml:"console"`

	Policy PolicyConfig `yaml:"policy"`

	Telemetry *telemetry.Config `yaml:"telemetry" validate:"required"`
}

// CoreConfig describes the local core process and the call policy.
type CoreConfig struct {
	// Path is the core executable.
	Path string `yaml:"path" validate:"required"`

	Args []string `yaml:"args"`

	// Env entries (KEY=value) are added to the core's environment.
	Env []string `yaml:"env" validate:"dive,required"`

	Dir string `yaml:"dir"`

	// CallTimeout bounds each command; zero waits forever.
	CallTimeout time.Duration `yaml:"call_timeout" validate:"gte=0"`

	// ExitWait is how long to wait for an exit status after the core
	// hung up.
	ExitWait time.Duration `yaml:"exit_wait" validate:"gte=0"`

	// ErrorMarker overrides the pattern that recognizes structured error
	// reports. It needs two groups: code and message.
	ErrorMarker string `yaml:"error_marker"`
}

// TranscriptConfig controls the SQLite exchange transcript.
type TranscriptConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the database file. A leading ~ is the home directory.
	Path string `yaml:"path" validate:"required_if=Enabled true"`
}

// ConsoleConfig controls Starlark script runs.
type ConsoleConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// PolicyConfig selects the Rego policies commands are checked against
// before they are sent.
type PolicyConfig struct {
	// Paths are .rego or .json files, or directories holding them.
	Paths []string `yaml:"paths" validate:"dive,required"`

	// ReadOnly blocks commands that change core state.
	ReadOnly bool `yaml:"read_only"`
}

// Active reports whether commands need a policy guard.
func (p PolicyConfig) Active() bool {
	return p.ReadOnly || len(p.Paths) > 0
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Core: CoreConfig{
			Path:        client.DefaultCorePath,
			CallTimeout: 30 * time.Second,
			ExitWait:    time.Second,
		},
		Transcript: TranscriptConfig{
			Path: filepath.Join("~", ".quanto", "transcripts.db"),
		},
		Console: ConsoleConfig{
			Timeout: 30 * time.Second,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

var validate = validator.New()

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Remote != nil {
		applyRemoteDefaults(cfg.Remote)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyRemoteDefaults fills unset remote fields. StrictHostKeyChecking
// keeps whatever the file said.
func applyRemoteDefaults(r *ssh.Config) {
	d := ssh.DefaultConfig(r.Host, r.User)
	if r.Port == 0 {
		r.Port = d.Port
	}
	if r.AuthMethod == "" {
		r.AuthMethod = d.AuthMethod
	}
	if r.KnownHostsPath == "" {
		r.KnownHostsPath = d.KnownHostsPath
	}
	if r.ConnectionTimeout == 0 {
		r.ConnectionTimeout = d.ConnectionTimeout
	}
	if r.CorePath == "" {
		r.CorePath = d.CorePath
	}
	if r.StageDir == "" {
		r.StageDir = d.StageDir
	}
}

// Validate checks struct constraints, the error marker and the remote
// settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	if _, err := protocol.NewClassifier(c.Core.ErrorMarker); err != nil {
		return fmt.Errorf("invalid core config: %w", err)
	}
	if c.Remote != nil {
		if err := c.Remote.Validate(); err != nil {
			return fmt.Errorf("invalid remote config: %w", err)
		}
	}
	return nil
}

// Launcher returns the launcher for the configured core.
func (c *Config) Launcher() (client.Launcher, error) {
	if c.Remote != nil {
		l, err := ssh.NewLauncher(c.Remote)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return &client.ProcessLauncher{
		Path: c.Core.Path,
		Args: c.Core.Args,
		Env:  c.Core.Env,
		Dir:  c.Core.Dir,
	}, nil
}

// ClientConfig builds the client options. rec may be nil.
func (c *Config) ClientConfig(tel *telemetry.Telemetry, rec client.Recorder) (client.Config, error) {
	classifier, err := protocol.NewClassifier(c.Core.ErrorMarker)
	if err != nil {
		return client.Config{}, err
	}
	return client.Config{
		CallTimeout: c.Core.CallTimeout,
		ExitWait:    c.Core.ExitWait,
		Classifier:  classifier,
		Recorder:    rec,
		Telemetry:   tel,
	}, nil
}

// TranscriptPath returns Transcript.Path with ~ expanded.
func (c *Config) TranscriptPath() (string, error) {
	return expandHome(c.Transcript.Path)
}

// PolicyPaths returns Policy.Paths with ~ expanded.
func (c *Config) PolicyPaths() ([]string, error) {
	paths := make([]string, 0, len(c.Policy.Paths))
	for _, p := range c.Policy.Paths {
		expanded, err := expandHome(p)
		if err != nil {
			return nil, err
		}
		paths = append(paths, expanded)
	}
	return paths, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
