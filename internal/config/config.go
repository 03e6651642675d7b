// Package config loads gitagentd settings from an optional YAML or TOML file
// and the process environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kballard/go-shellquote"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/ssd-technologies/gitagent/internal/crypto"
	"github.com/ssd-technologies/gitagent/internal/storage"
)

const (
	RegistryEth    = "eth"
	RegistryMemory = "memory"

	SupervisorNative = "native"
	SupervisorPM2    = "pm2"

	DefaultRPCURL = "https://dream-rpc.somnia.network"
)

// Config holds the runtime configuration of gitagentd.
type Config struct {
	Addr      string `yaml:"addr" toml:"addr"`
	DataDir   string `yaml:"data_dir" toml:"data_dir"`
	AgentsDir string `yaml:"agents_dir" toml:"agents_dir"`
	LogsDir   string `yaml:"logs_dir" toml:"logs_dir"`

	MasterSecret  string `yaml:"master_secret" toml:"master_secret"`
	Cipher        string `yaml:"cipher" toml:"cipher"`
	BackendURL    string `yaml:"backend_url" toml:"backend_url"`
	WebhookSecret string `yaml:"webhook_secret" toml:"webhook_secret"`
	APIToken      string `yaml:"api_token" toml:"api_token"`

	// InstallCommand runs in a fresh workspace; split with shell quoting rules.
	InstallCommand string `yaml:"install_command" toml:"install_command"`

	Log        LogConfig        `yaml:"log" toml:"log"`
	DB         DBConfig         `yaml:"db" toml:"db"`
	Registry   RegistryConfig   `yaml:"registry" toml:"registry"`
	Supervisor SupervisorConfig `yaml:"supervisor" toml:"supervisor"`
	Pipeline   PipelineConfig   `yaml:"pipeline" toml:"pipeline"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" toml:"rate_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text or json
}

type DBConfig struct {
	// Driver is sqlite or postgres. An empty DSN means <data_dir>/gitagent.db.
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

type RegistryConfig struct {
	Kind             string        `yaml:"kind" toml:"kind"`
	RPCURL           string        `yaml:"rpc_url" toml:"rpc_url"`
	FactoryAddress   string        `yaml:"factory_address" toml:"factory_address"`
	PrivateKey       string        `yaml:"private_key" toml:"private_key"`
	ConfirmTimeout   time.Duration `yaml:"confirm_timeout" toml:"confirm_timeout"`
	PropagationDelay time.Duration `yaml:"propagation_delay" toml:"propagation_delay"`
}

type SupervisorConfig struct {
	Kind   string `yaml:"kind" toml:"kind"`
	PM2Bin string `yaml:"pm2_bin" toml:"pm2_bin"`
	// Command launches an agent inside its workspace.
	Command string `yaml:"command" toml:"command"`
}

type PipelineConfig struct {
	Workers       int           `yaml:"workers" toml:"workers"`
	QueueSize     int           `yaml:"queue_size" toml:"queue_size"`
	SweepInterval time.Duration `yaml:"sweep_interval" toml:"sweep_interval"`
}

// RateLimitConfig values are requests per minute per client IP. Zero disables.
// Webhook deliveries over the limit are still acknowledged with 200.
type RateLimitConfig struct {
	Webhook int `yaml:"webhook" toml:"webhook"`
	Metrics int `yaml:"metrics" toml:"metrics"`
}

// Default returns the built-in configuration. It has no master secret.
func Default() *Config {
	return &Config{
		Addr:           ":3005",
		DataDir:        "data",
		Cipher:         crypto.CipherAES,
		BackendURL:     "http://localhost:3005",
		InstallCommand: "npm install",
		Log:            LogConfig{Level: "info", Format: "text"},
		DB:             DBConfig{Driver: storage.DriverSQLite},
		Registry: RegistryConfig{
			Kind:             RegistryEth,
			RPCURL:           DefaultRPCURL,
			ConfirmTimeout:   2 * time.Minute,
			PropagationDelay: time.Second,
		},
		Supervisor: SupervisorConfig{
			Kind:    SupervisorNative,
			PM2Bin:  "pm2",
			Command: "ts-node agent.ts",
		},
		Pipeline:  PipelineConfig{Workers: 4, QueueSize: 64, SweepInterval: time.Minute},
		RateLimit: RateLimitConfig{Webhook: 0, Metrics: 600},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("config: expand %s: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(expanded)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("config: unsupported file type %q", ext)
	}
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides file values with the deployment environment.
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	if port := getenv("PORT"); port != "" {
		c.Addr = ":" + port
	}
	set(&c.DataDir, "GITAGENT_DATA_DIR")
	set(&c.MasterSecret, "MASTER_SECRET_KEY")
	set(&c.Cipher, "GITAGENT_CIPHER")
	set(&c.BackendURL, "BACKEND_URL")
	set(&c.WebhookSecret, "GITHUB_WEBHOOK_SECRET")
	set(&c.APIToken, "GITAGENT_API_TOKEN")
	set(&c.DB.Driver, "GITAGENT_DB_DRIVER")
	set(&c.DB.DSN, "GITAGENT_DB_DSN")
	set(&c.Registry.Kind, "GITAGENT_REGISTRY")
	set(&c.Registry.RPCURL, "SOMNIA_RPC_URL")
	set(&c.Registry.PrivateKey, "BACKEND_PRIVATE_KEY")
	set(&c.Registry.FactoryAddress, "AGENT_FACTORY_ADDRESS")
	set(&c.Supervisor.Kind, "GITAGENT_SUPERVISOR")
	set(&c.Log.Level, "GITAGENT_LOG_LEVEL")
	set(&c.Log.Format, "GITAGENT_LOG_FORMAT")
	if v := getenv("GITAGENT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.Workers = n
		}
	}
}

// normalize expands ~ and fills directories derived from DataDir.
func (c *Config) normalize() error {
	var err error
	for _, p := range []*string{&c.DataDir, &c.AgentsDir, &c.LogsDir} {
		if *p == "" {
			continue
		}
		if *p, err = homedir.Expand(*p); err != nil {
			return fmt.Errorf("config: expand path: %w", err)
		}
	}
	if c.AgentsDir == "" {
		c.AgentsDir = filepath.Join(c.DataDir, "agents")
	}
	if c.LogsDir == "" {
		c.LogsDir = filepath.Join(c.DataDir, "logs")
	}
	if c.DB.Driver == "" {
		c.DB.Driver = storage.DriverSQLite
	}
	if c.DB.DSN == "" && c.DB.Driver == storage.DriverSQLite {
		c.DB.DSN = filepath.Join(c.DataDir, "gitagent.db")
	} else if c.DB.Driver == storage.DriverSQLite {
		if c.DB.DSN, err = homedir.Expand(c.DB.DSN); err != nil {
			return fmt.Errorf("config: expand db path: %w", err)
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.MasterSecret == "" {
		return errors.New("config: master secret is required (MASTER_SECRET_KEY)")
	}
	switch c.Cipher {
	case "", crypto.CipherAES, crypto.CipherAge:
	default:
		return fmt.Errorf("config: unknown cipher %q", c.Cipher)
	}
	switch c.Registry.Kind {
	case RegistryEth:
		if c.Registry.RPCURL == "" {
			return errors.New("config: registry rpc_url is required for the eth registry")
		}
	case RegistryMemory:
	default:
		return fmt.Errorf("config: unknown registry kind %q", c.Registry.Kind)
	}
	switch c.Supervisor.Kind {
	case SupervisorNative, SupervisorPM2:
	default:
		return fmt.Errorf("config: unknown supervisor kind %q", c.Supervisor.Kind)
	}
	switch c.DB.Driver {
	case storage.DriverSQLite, storage.DriverPostgres:
	default:
		return fmt.Errorf("config: unknown db driver %q", c.DB.Driver)
	}
	if c.DB.Driver == storage.DriverPostgres && c.DB.DSN == "" {
		return errors.New("config: db dsn is required for postgres")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if _, err := c.InstallArgs(); err != nil {
		return err
	}
	args, err := c.AgentArgs()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return errors.New("config: supervisor command is empty")
	}
	return nil
}

// InstallArgs splits InstallCommand. An empty command skips installation.
func (c *Config) InstallArgs() ([]string, error) {
	args, err := shellquote.Split(c.InstallCommand)
	if err != nil {
		return nil, fmt.Errorf("config: install_command: %w", err)
	}
	return args, nil
}

// AgentArgs splits the supervisor launch command.
func (c *Config) AgentArgs() ([]string, error) {
	args, err := shellquote.Split(c.Supervisor.Command)
	if err != nil {
		return nil, fmt.Errorf("config: supervisor command: %w", err)
	}
	return args, nil
}

func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return lvl, nil
}

// RegistryWritable reports whether registration transactions can be sent.
func (c *Config) RegistryWritable() bool {
	return c.Registry.Kind == RegistryMemory ||
		(c.Registry.PrivateKey != "" && c.Registry.FactoryAddress != "")
}
