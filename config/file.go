package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file read when PSAHUNTER_CONFIG is not set.
const DefaultFile = "psahunter.yaml"

// FilePath returns the config file location from PSAHUNTER_CONFIG, or
// DefaultFile.
func FilePath(lookup LookupFunc) string {
	if v, ok := lookup("PSAHUNTER_CONFIG"); ok && v != "" {
		return v
	}
	return DefaultFile
}

// LoadFile loads a YAML config file. Returns nil if the file doesn't exist
// (not an error). Returns error if the file exists but cannot be parsed.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv loads variables from a .env file into the process environment.
// Variables already set are kept. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides c with every variable lookup reports as set and
// non-empty.
func (c *Config) applyEnv(lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", key, err)
		}
		*dst = Duration(d)
		return nil
	}

	str("PSA_TOKEN", &c.PSA.Token)
	str("PSA_BASE_URL", &c.PSA.BaseURL)
	str("SEARCH_ENGINE", &c.Search.Engine)
	str("SEARXNG_URL", &c.Search.SearxURL)
	str("SEARCH_LANGUAGE", &c.Search.Language)
	str("DATA_DIR", &c.Paths.DataDir)
	str("DB_DIR", &c.Paths.DBDir)
	str("LOG_DIR", &c.Paths.LogDir)
	str("REQUESTS_CA_BUNDLE", &c.HTTP.CABundle)
	str("STORE_TYPE", &c.Store.Type)
	str("STORE_DSN", &c.Store.DSN)
	str("LOG_LEVEL", &c.LogLevel)

	return errors.Join(
		num("DAILY_CAP", &c.Run.DailyCap),
		num("RETRIES", &c.HTTP.Retries),
		dur("CONNECT_TIMEOUT", &c.HTTP.ConnectTimeout),
		dur("READ_TIMEOUT", &c.HTTP.ReadTimeout),
	)
}
