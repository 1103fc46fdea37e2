package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DefaultDomains is the domain allow-list used when none is configured.
var DefaultDomains = []string{
	"psacard.com", "www.psacard.com", "setregistry.psacard.com",
	"pwccmarketplace.com", "www.pwccmarketplace.com",
	"goldin.co", "www.goldin.co",
	"heritageauctions.com", "www.ha.com", "ha.com",
	"robertedwardauctions.com", "www.robertedwardauctions.com",
	"memorylaneinc.com", "www.memorylaneinc.com",
	"ebay.com", "www.ebay.com", "ebay.de", "www.ebay.de",
	"net54baseball.com", "www.net54baseball.com",
	"blowoutforums.com", "www.blowoutforums.com",
	"reddit.com", "www.reddit.com", "old.reddit.com",
	"beckett.com", "www.beckett.com",
	"sportscardinvestor.com", "www.sportscardinvestor.com",
}

// DefaultAllowPattern matches the paths of listing, forum and registry
// pages.
const DefaultAllowPattern = `/setregistry|/sets?|/collection|/registry|/auction|/auctions?|/lot/|/item/|/listing|/thread|/topic|/forum|/discussion|/r/.*?/comments/|/card|/details|/catalog|/price|/pop|/population`

// Duration is a time.Duration that also accepts a plain number of seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Set parses a command-line value with ParseDuration.
func (d *Duration) Set(s string) error {
	v, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) Type() string {
	return "duration"
}

// UnmarshalYAML accepts "10s", "1m30s" or 2.5.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// ParseDuration parses a Go duration, falling back to plain seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// PSAConfig configures the certificate API.
type PSAConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
}

// SearchConfig selects and configures the search backends.
type SearchConfig struct {
	Engine   string   `yaml:"engine"`
	SearxURL string   `yaml:"searx_url"`
	Language string   `yaml:"language"`
	Mirrors  []string `yaml:"mirrors"`
}

// PathsConfig holds directories and ledger locations. Empty file paths are
// derived from the directories.
type PathsConfig struct {
	DataDir string `yaml:"data_dir"`
	DBDir   string `yaml:"db_dir"`
	LogDir  string `yaml:"log_dir"`
	Queries string `yaml:"queries"`
	Feeds   string `yaml:"feeds"`
	URLs    string `yaml:"urls"`
	Certs   string `yaml:"certs"`
}

// StoreConfig selects the certificate store.
type StoreConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// HTTPConfig configures the shared HTTP client.
type HTTPConfig struct {
	ConnectTimeout   Duration `yaml:"connect_timeout"`
	ReadTimeout      Duration `yaml:"read_timeout"`
	Retries          int      `yaml:"retries"`
	CABundle         string   `yaml:"ca_bundle"`
	RespectRobots    bool     `yaml:"respect_robots"`
	CloudflareBypass bool     `yaml:"cloudflare_bypass"`
}

// FilterConfig configures which search results are kept.
type FilterConfig struct {
	Domains    []string `yaml:"domains"`
	Allow      string   `yaml:"allow"`
	Deny       string   `yaml:"deny"`
	IncludeAny bool     `yaml:"include_any"`
}

// RunConfig holds the per-stage pacing and limits.
type RunConfig struct {
	PerQuery        int      `yaml:"per_query"`
	MaxPages        int      `yaml:"max_pages"`
	Sleep           Duration `yaml:"sleep"`
	ScanLimitPerURL int      `yaml:"scan_limit_per_url"`
	ScanSleep       Duration `yaml:"scan_sleep"`
	DailyCap        int      `yaml:"daily_cap"`
	SleepMS         int      `yaml:"sleep_ms"`
}

// Config is the resolved configuration of a run.
type Config struct {
	PSA      PSAConfig    `yaml:"psa"`
	Search   SearchConfig `yaml:"search"`
	Paths    PathsConfig  `yaml:"paths"`
	Store    StoreConfig  `yaml:"store"`
	HTTP     HTTPConfig   `yaml:"http"`
	Filter   FilterConfig `yaml:"filter"`
	Run      RunConfig    `yaml:"run"`
	LogLevel string       `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PSA: PSAConfig{
			BaseURL: "https://api.psacard.com/publicapi",
		},
		Search: SearchConfig{
			Engine:   "auto",
			Language: "de-DE",
		},
		Paths: PathsConfig{
			DataDir: "./data",
			DBDir:   "./db",
			LogDir:  "./logs",
		},
		Store: StoreConfig{
			Type: "sqlite",
		},
		HTTP: HTTPConfig{
			ConnectTimeout: Duration(10 * time.Second),
			ReadTimeout:    Duration(25 * time.Second),
			Retries:        3,
		},
		Filter: FilterConfig{
			Domains: DefaultDomains,
			Allow:   DefaultAllowPattern,
		},
		Run: RunConfig{
			PerQuery:  20,
			MaxPages:  2,
			Sleep:     Duration(time.Second),
			ScanSleep: Duration(500 * time.Millisecond),
			DailyCap:  80,
			SleepMS:   250,
		},
		LogLevel: "info",
	}
}

// LookupFunc reads one environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load resolves the configuration with precedence: environment over the
// YAML file at path over defaults. A missing file is not an error.
func Load(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	file, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if file != nil {
		if err := mergo.Merge(&cfg, *file, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config file: %w", err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	cfg.resolvePaths()
	return &cfg, nil
}

// resolvePaths fills file locations left empty from the directories.
func (c *Config) resolvePaths() {
	p := &c.Paths
	if p.Queries == "" {
		p.Queries = filepath.Join(p.DataDir, "queries.txt")
	}
	if p.Feeds == "" {
		p.Feeds = filepath.Join(p.DataDir, "feeds.txt")
	}
	if p.URLs == "" {
		p.URLs = filepath.Join(p.DataDir, "urls.txt")
	}
	if p.Certs == "" {
		p.Certs = filepath.Join(p.DataDir, "certs.txt")
	}
	if c.Store.DSN == "" && c.Store.Type == "sqlite" {
		c.Store.DSN = filepath.Join(p.DBDir, "psa.db")
	}
}

// ValidateSleep is the pause between API calls.
func (c *Config) ValidateSleep() time.Duration {
	return time.Duration(c.Run.SleepMS) * time.Millisecond
}
