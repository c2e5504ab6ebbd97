package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Dirs   DirsConfig   `mapstructure:"dirs" yaml:"dirs"`
	Scan   ScanConfig   `mapstructure:"scan" yaml:"scan"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	Port string `mapstructure:"port" yaml:"port"`
}

// DirsConfig names the five working areas plus the final destination.
// Queue holds pending manifests, Current the single active manifest,
// Working the partial files being assembled, Postponed the set-aside
// working directories, Temp the discard/holding area.
type DirsConfig struct {
	Queue     string `mapstructure:"queue" yaml:"queue"`
	Current   string `mapstructure:"current" yaml:"current"`
	Working   string `mapstructure:"working" yaml:"working"`
	Postponed string `mapstructure:"postponed" yaml:"postponed"`
	Temp      string `mapstructure:"temp" yaml:"temp"`
	Dest      string `mapstructure:"dest" yaml:"dest"`
}

type ScanConfig struct {
	IntervalSeconds    int  `mapstructure:"interval_seconds" yaml:"interval_seconds"`
	IdleDelaySeconds   int  `mapstructure:"idle_delay_seconds" yaml:"idle_delay_seconds"`
	StrictSubjectMatch bool `mapstructure:"strict_subject_match" yaml:"strict_subject_match"`
	Workers            int  `mapstructure:"workers" yaml:"workers"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// ServerConfig points at the news server articles are pulled from.
// With no host configured the daemon still queues and orders work, it
// just never starts fetch workers.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	TLS  bool   `mapstructure:"tls" yaml:"tls"`
}

func Load(path string) (*Config, error) {

	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Docker-style fallback location before giving up
		if path == "config.yaml" {
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			} else {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
		} else {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	v := viper.New()

	v.SetDefault("port", "8092")
	v.SetDefault("dirs.queue", "./nzb/daemon.queue")
	v.SetDefault("dirs.current", "./nzb/daemon.current")
	v.SetDefault("dirs.working", "./nzb/daemon.working")
	v.SetDefault("dirs.postponed", "./nzb/daemon.postponed")
	v.SetDefault("dirs.temp", "./nzb/daemon.temp")
	v.SetDefault("dirs.dest", "./completed")
	v.SetDefault("scan.interval_seconds", 7)
	v.SetDefault("scan.idle_delay_seconds", 5)
	v.SetDefault("scan.strict_subject_match", false)
	v.SetDefault("scan.workers", 4)
	v.SetDefault("log.path", "gonzbd.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("store.sqlite_path", "gonzbd.db")
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 119)
	v.SetDefault("server.tls", false)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	v.SetEnvPrefix("GONZBD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	dirs := map[string]string{
		"dirs.queue":     c.Dirs.Queue,
		"dirs.current":   c.Dirs.Current,
		"dirs.working":   c.Dirs.Working,
		"dirs.postponed": c.Dirs.Postponed,
		"dirs.temp":      c.Dirs.Temp,
		"dirs.dest":      c.Dirs.Dest,
	}
	seen := make(map[string]string)
	for key, d := range dirs {
		if d == "" {
			return fmt.Errorf("%s is required", key)
		}
		if prev, ok := seen[d]; ok {
			return fmt.Errorf("%s and %s must not share a directory (%s)", prev, key, d)
		}
		seen[d] = key
	}

	if c.Scan.IntervalSeconds <= 0 {
		c.Scan.IntervalSeconds = 7
	}
	if c.Scan.IdleDelaySeconds <= 0 {
		c.Scan.IdleDelaySeconds = 5
	}
	if c.Scan.Workers <= 0 {
		c.Scan.Workers = 4
	}
	if c.Server.Host != "" && c.Server.Port <= 0 {
		c.Server.Port = 119
	}

	return nil
}

// EnsureDirs creates every configured working area that does not exist yet.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.Dirs.Queue, c.Dirs.Current, c.Dirs.Working,
		c.Dirs.Postponed, c.Dirs.Temp, c.Dirs.Dest} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}
