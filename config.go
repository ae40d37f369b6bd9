package cachegate

import (
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cachegate/cachegate/log"
)

// Config holds every tunable the server needs at startup and across a
// reload. ClientPort, CacheSizeInMBs, and StrictExpiry are fixed for a
// process's lifetime; EvictionThreshold, EvictionFactor, and SweepInterval
// are hot-applied by OnConfigChange. A LogLevel change is only logged: the
// loggers already built keep their level until restart.
type Config struct {
	ClientPort        int     `mapstructure:"client-port" yaml:"client-port"`
	AdminPort         int     `mapstructure:"admin-port" yaml:"admin-port"`
	CacheSizeInMBs    int     `mapstructure:"cache-size-mb" yaml:"cache-size-mb"`
	EvictionThreshold float64 `mapstructure:"eviction-threshold" yaml:"eviction-threshold"`
	EvictionFactor    float64 `mapstructure:"eviction-factor" yaml:"eviction-factor"`
	StrictExpiry      bool    `mapstructure:"strict-expiry" yaml:"strict-expiry"`
	SweepInterval     string  `mapstructure:"sweep-interval" yaml:"sweep-interval"`
	LogLevel          string  `mapstructure:"log-level" yaml:"log-level"`
}

// WriteDefaultConfig scaffolds a starting config.yaml an operator can edit
// and point -config at, mirroring the save-default-config helper the
// teacher's own cmd/memcached/main.go keeps (there as JSON; here as YAML
// since viper's own file format for this binary is YAML).
func WriteDefaultConfig(path string) error {
	b, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

func DefaultConfig() Config {
	return Config{
		ClientPort:        6379,
		AdminPort:         6380,
		CacheSizeInMBs:    64,
		EvictionThreshold: 0.9,
		EvictionFactor:    0.75,
		StrictExpiry:      false,
		SweepInterval:     "6s",
		LogLevel:          "info",
	}
}

func (c Config) CeilingBytes() int64 { return int64(c.CacheSizeInMBs) * 1 << 20 }

func (c Config) SweepIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return 6 * time.Second
	}
	return d
}

// ConfigLoader owns the viper.Viper that read Config and, once Watch is
// called, hot-applies later changes to a live Server. Unlike ClientPort and
// CacheSizeInMBs, which only take effect at NewConfigLoader time, the fields
// Server.applyConfig touches may change for the life of the process.
type ConfigLoader struct {
	v   *viper.Viper
	log log.Logger
}

// NewConfigLoader sets viper defaults, then merges in a config file (if
// path is non-empty) and environment variables prefixed CACHEGATE_. No
// command-line flags are bound into viper.
func NewConfigLoader(path string, l log.Logger) (*ConfigLoader, Config, error) {
	v := viper.New()
	def := DefaultConfig()
	v.SetDefault("client-port", def.ClientPort)
	v.SetDefault("admin-port", def.AdminPort)
	v.SetDefault("cache-size-mb", def.CacheSizeInMBs)
	v.SetDefault("eviction-threshold", def.EvictionThreshold)
	v.SetDefault("eviction-factor", def.EvictionFactor)
	v.SetDefault("strict-expiry", def.StrictExpiry)
	v.SetDefault("sweep-interval", def.SweepInterval)
	v.SetDefault("log-level", def.LogLevel)

	v.SetEnvPrefix("cachegate")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, Config{}, err
	}
	return &ConfigLoader{v: v, log: l}, cfg, nil
}

// Watch hot-applies EvictionThreshold, EvictionFactor, and SweepInterval
// changes to s whenever the backing config file changes; a LogLevel change
// is logged but not applied. Only safe to call after NewConfigLoader loaded
// from a real file.
func (cl *ConfigLoader) Watch(s *Server) {
	cl.v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := cl.v.Unmarshal(&cfg); err != nil {
			cl.log.Warnf("config reload %s: %v", e.Name, err)
			return
		}
		cl.log.Infof("config changed: %s", e.Name)
		s.applyConfig(cfg)
	})
	cl.v.WatchConfig()
}
