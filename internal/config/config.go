package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ryandielhenn/wavetree/internal/logging"
)

const (
	EnvGraph         = "WAVE_GRAPH"
	EnvRoot          = "WAVE_ROOT"
	EnvSettle        = "WAVE_SETTLE"
	EnvInitTimeout   = "WAVE_INIT_TIMEOUT"
	EnvMetricsAddr   = "WAVE_METRICS_ADDR"
	EnvEtcdEndpoints = "WAVE_ETCD_ENDPOINTS"
)

// Duration decodes TOML strings such as "5s" or "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	// GraphFile is an adjacency file. Ignored when Etcd.Endpoints is set.
	GraphFile   string   `toml:"graph_file"`
	Root        string   `toml:"root"`
	InitTimeout Duration `toml:"init_timeout"`
	// Settle is how long the run waits after triggering the root before it
	// snapshots and tears down. The protocol has no termination signal.
	Settle Duration `toml:"settle"`
	// Jitter adds a random per-message delay on every link.
	Jitter      Duration       `toml:"jitter"`
	MetricsAddr string         `toml:"metrics_addr"`
	Etcd        EtcdConfig     `toml:"etcd"`
	Log         logging.Config `toml:"log"`
}

type EtcdConfig struct {
	Endpoints []string `toml:"endpoints"`
	Prefix    string   `toml:"prefix"`
}

func Default() Config {
	return Config{
		Root:        "0",
		InitTimeout: Duration{5 * time.Second},
		Settle:      Duration{5 * time.Second},
		Etcd:        EtcdConfig{Prefix: "/wave/topology"},
		Log:         logging.Config{Level: "info"},
	}
}

// Load reads a TOML file over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadToml(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvGraph); v != "" {
		cfg.GraphFile = v
	}
	if v := os.Getenv(EnvRoot); v != "" {
		cfg.Root = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv(EnvEtcdEndpoints); v != "" {
		cfg.Etcd.Endpoints = splitList(v)
	}
	for env, dst := range map[string]*Duration{
		EnvSettle:      &cfg.Settle,
		EnvInitTimeout: &cfg.InitTimeout,
	} {
		if v := os.Getenv(env); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("config env %s: %w", env, err)
			}
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Root) == "" {
		return fmt.Errorf("config missing root")
	}
	if cfg.InitTimeout.Duration <= 0 {
		return fmt.Errorf("config init_timeout must be positive, got %s", cfg.InitTimeout)
	}
	if cfg.Settle.Duration < 0 {
		return fmt.Errorf("config settle must not be negative, got %s", cfg.Settle)
	}
	if cfg.Jitter.Duration < 0 {
		return fmt.Errorf("config jitter must not be negative, got %s", cfg.Jitter)
	}
	if len(cfg.Etcd.Endpoints) > 0 && strings.TrimSpace(cfg.Etcd.Prefix) == "" {
		return fmt.Errorf("config etcd prefix required when endpoints are set")
	}
	return nil
}

// UsesEtcd reports whether the topology comes from etcd rather than a file.
func (c Config) UsesEtcd() bool {
	return len(c.Etcd.Endpoints) > 0
}
