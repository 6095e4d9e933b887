package config

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultAddr          = "127.0.0.1:3173"
	DefaultADBPath       = "adb"
	DefaultPollInterval  = 2 * time.Second
	DefaultScriptTimeout = 30 * time.Second
	DefaultPluginsDir    = "plugins"
	DefaultDatabasePath  = "./data/adbdesk.db"
	DefaultLogDir        = "log"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	ADB     ADBConfig     `yaml:"adb"`
	Monitor MonitorConfig `yaml:"monitor"`
	Python  PythonConfig  `yaml:"python"`
	Plugins PluginsConfig `yaml:"plugins"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit is requests per second on mutating routes. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type ADBConfig struct {
	Path string `yaml:"path"`
	// CommandTimeout bounds each adb invocation. Zero means no bound.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

type MonitorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type PythonConfig struct {
	// Interpreter is left empty to fall back to $PYTHON_PATH, then python3.
	Interpreter string        `yaml:"interpreter"`
	Timeout     time.Duration `yaml:"timeout"`
	// InteractiveTimeout bounds streamed runs. Zero means no bound.
	InteractiveTimeout time.Duration `yaml:"interactive_timeout"`
}

type PluginsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Dir receives a timestamped log file per run. Empty logs to the console only.
	Dir string `yaml:"dir"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:      DefaultAddr,
			RateLimit: 20,
			RateBurst: 40,
		},
		ADB: ADBConfig{
			Path: DefaultADBPath,
		},
		Monitor: MonitorConfig{
			Enabled:  true,
			Interval: DefaultPollInterval,
		},
		Python: PythonConfig{
			Timeout: DefaultScriptTimeout,
		},
		Plugins: PluginsConfig{
			Dir:   DefaultPluginsDir,
			Watch: true,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    DefaultDatabasePath,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   DefaultLogDir,
		},
	}
}

func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return errors.Wrapf(err, "server.addr %q", c.Server.Addr)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return errors.New("server.rate_limit and server.rate_burst must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst == 0 {
		return errors.New("server.rate_burst must be positive when rate limiting is on")
	}
	if c.ADB.Path == "" {
		return errors.New("adb.path is required")
	}
	if c.ADB.CommandTimeout < 0 {
		return errors.New("adb.command_timeout must not be negative")
	}
	if c.Monitor.Interval <= 0 {
		return errors.New("monitor.interval must be positive")
	}
	if c.Python.Timeout < 0 || c.Python.InteractiveTimeout < 0 {
		return errors.New("python timeouts must not be negative")
	}
	if c.Plugins.Dir == "" {
		return errors.New("plugins.dir is required")
	}
	if c.History.Enabled && c.History.Path == "" {
		return errors.New("history.path is required when history is enabled")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(err, "log.level %q", c.Log.Level)
	}
	return nil
}
