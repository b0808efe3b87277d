package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/qudata/gminer-agent/internal/devicemap"
	"github.com/qudata/gminer-agent/internal/domain"
)

// Build-time variables injected via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

type Config struct {
	Agent   AgentConfig       `mapstructure:"agent"`
	Fleet   FleetConfig       `mapstructure:"fleet"`
	Miner   MinerConfig       `mapstructure:"miner"`
	Stratum StratumConfig     `mapstructure:"stratum"`
	Devices []devicemap.Entry `mapstructure:"devices"`

	// Ports restricts worker API ports to a pool such as "4000-4100,4200".
	// Empty means any free port.
	Ports string `mapstructure:"ports"`
}

type AgentConfig struct {
	// Port of the control API. 0 picks a free port at startup.
	Port    int    `mapstructure:"port"`
	Secret  string `mapstructure:"secret"`
	Debug   bool   `mapstructure:"debug"`
	LogDir  string `mapstructure:"log_dir"`
	DataDir string `mapstructure:"data_dir"`
}

// FleetConfig points at the fleet manager. An empty URL runs the agent
// standalone: nothing is registered or reported upstream.
type FleetConfig struct {
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
}

type MinerConfig struct {
	// Binary overrides <work_dir>/bins/miner.
	Binary            string `mapstructure:"binary"`
	WorkDir           string `mapstructure:"work_dir"`
	ExtraParams       string `mapstructure:"extra_params"`
	TemperatureParams string `mapstructure:"temperature_params"`
	// Env entries are KEY=VALUE; a list because viper lowercases map keys.
	Env           []string `mapstructure:"env"`
	Username      string   `mapstructure:"username"`
	BenchmarkUser string   `mapstructure:"benchmark_user"`
	Algorithm     string   `mapstructure:"algorithm"`
	Location      string   `mapstructure:"location"`
	// Devices are the assigned device ids in launch order.
	Devices          []string      `mapstructure:"devices"`
	TelemetryTimeout time.Duration `mapstructure:"telemetry_timeout"`
}

type StratumConfig struct {
	// Endpoints maps an algorithm to "host:port"; "{location}" is replaced
	// with miner.location.
	Endpoints map[string]string `mapstructure:"endpoints"`
}

// Load reads configuration from an optional YAML file and GMINER_* environment
// variables. If configPath is empty, config.yaml is looked up under ./configs
// and a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("GMINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/gminer-agent")
	}

	if err := v.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.port", 0)
	v.SetDefault("agent.secret", "")
	v.SetDefault("agent.debug", false)
	v.SetDefault("agent.log_dir", "/var/log/gminer-agent")
	v.SetDefault("agent.data_dir", "/var/lib/gminer-agent")

	v.SetDefault("fleet.url", "")
	v.SetDefault("fleet.api_key", "")
	v.SetDefault("fleet.report_interval", 5*time.Second)

	v.SetDefault("miner.binary", "")
	v.SetDefault("miner.work_dir", "/opt/gminer")
	v.SetDefault("miner.extra_params", "")
	v.SetDefault("miner.temperature_params", "")
	v.SetDefault("miner.username", "")
	v.SetDefault("miner.benchmark_user", "demo.benchmark")
	v.SetDefault("miner.algorithm", "")
	v.SetDefault("miner.location", "eu")
	v.SetDefault("miner.devices", []string{})
	v.SetDefault("miner.env", []string{})
	v.SetDefault("miner.telemetry_timeout", 5*time.Second)

	v.SetDefault("ports", "")

	// AutomaticEnv only sees keys viper already knows. The device table
	// stays file-only; endpoints can come from GMINER_STRATUM_ENDPOINTS_<ALGO>.
	v.SetDefault("devices", []map[string]any{})
	for _, algo := range []domain.AlgorithmType{
		domain.AlgorithmZHash,
		domain.AlgorithmBeam,
		domain.AlgorithmGrinCuckaroo29,
		domain.AlgorithmGrinCuckatoo31,
	} {
		_ = v.BindEnv("stratum.endpoints." + string(algo))
	}
}

// Validate checks what can be checked without touching the device table or
// the worker binary.
func (c *Config) Validate() error {
	if c.Miner.Algorithm == "" {
		return fmt.Errorf("miner.algorithm is required")
	}
	if len(c.Miner.Devices) == 0 {
		return fmt.Errorf("miner.devices must list at least one device")
	}
	if c.Agent.Port < 0 || c.Agent.Port > 65535 {
		return fmt.Errorf("agent.port %d is out of range", c.Agent.Port)
	}
	if c.Fleet.URL != "" {
		if c.Fleet.APIKey == "" {
			return fmt.Errorf("fleet.api_key is required when fleet.url is set")
		}
		if !strings.HasPrefix(c.Fleet.APIKey, "ak-") {
			return fmt.Errorf("fleet.api_key must start with 'ak-'")
		}
	}
	if c.Fleet.ReportInterval <= 0 {
		return fmt.Errorf("fleet.report_interval must be positive")
	}
	return nil
}

// Environment parses miner.env into the worker's extra environment.
func (m MinerConfig) Environment() (map[string]string, error) {
	env := make(map[string]string, len(m.Env))
	for _, kv := range m.Env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("miner.env entry %q is not KEY=VALUE", kv)
		}
		env[key] = value
	}
	return env, nil
}

// Assignment builds the device assignment from miner.devices, taking each
// device's class from the devices table.
func (c *Config) Assignment() (domain.Assignment, error) {
	classes := make(map[domain.DeviceID]domain.DeviceClass, len(c.Devices))
	for _, e := range c.Devices {
		classes[e.DeviceID] = e.Class
	}

	algo := domain.AlgorithmType(strings.ToLower(c.Miner.Algorithm))
	pairs := make([]domain.MiningPair, 0, len(c.Miner.Devices))
	for _, raw := range c.Miner.Devices {
		id := domain.DeviceID(raw)
		class, ok := classes[id]
		if !ok {
			return domain.Assignment{}, domain.ErrUnmappedDevice{DeviceID: id}
		}
		pairs = append(pairs, domain.MiningPair{
			Device:    domain.Device{ID: id, Class: class},
			Algorithm: algo,
		})
	}
	return domain.NewAssignment(pairs)
}

// NewLogger creates a structured logger that writes to both stdout and a log file.
func NewLogger(cfg *Config, name string) (*slog.Logger, error) {
	if err := os.MkdirAll(cfg.Agent.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	logPath := filepath.Join(cfg.Agent.LogDir, name+".log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}

	level := slog.LevelInfo
	if cfg.Agent.Debug {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(io.MultiWriter(os.Stdout, file), &slog.HandlerOptions{Level: level})
	return slog.New(handler), nil
}
