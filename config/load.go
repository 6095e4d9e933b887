package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file configuration.
const (
	EnvADBPath     = "ADB_PATH"
	EnvPythonPath  = "PYTHON_PATH"
	EnvAddr        = "ADBDESK_ADDR"
	EnvPluginsDir  = "ADBDESK_PLUGINS_DIR"
	EnvLogLevel    = "ADBDESK_LOG_LEVEL"
	EnvHistoryPath = "ADBDESK_HISTORY_PATH"
)

// Load builds the configuration: defaults, then the nearest .env file, then the
// YAML file at path (optional when empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := loadDotEnv(); err != nil {
		log.Warn().Str("module", "config").Err(err).Msg("load .env failed")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "config %s", path)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// Parse decodes YAML onto cfg, keeping the values of keys it does not set.
// Unknown keys are rejected so typos surface early.
func Parse(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err := decoder.Decode(cfg)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return errors.Wrap(err, "decode YAML")
}

func applyEnv(cfg *Config) {
	set := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	set(EnvADBPath, &cfg.ADB.Path)
	set(EnvPythonPath, &cfg.Python.Interpreter)
	set(EnvAddr, &cfg.Server.Addr)
	set(EnvPluginsDir, &cfg.Plugins.Dir)
	set(EnvLogLevel, &cfg.Log.Level)
	set(EnvHistoryPath, &cfg.History.Path)
}

// loadDotEnv loads the first .env found from the working directory upward.
// Variables already set in the environment win. Tests skip it unless
// GOTEST_LOAD_DOTENV=1 so a developer's .env cannot leak in.
func loadDotEnv() error {
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	path, err := findDotEnv()
	if err != nil || path == "" {
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "load %s", path)
	}
	log.Debug().Str("module", "config").Str("dotenv", path).Msg("loaded .env")
	return nil
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func findDotEnv() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return findDotEnvFrom(wd)
}

func findDotEnvFrom(dir string) (string, error) {
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
