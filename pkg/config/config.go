package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EffectiveConfigResult carries the merged config plus how it was
// resolved, for banner/diagnostic output.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string
}

// Load reads a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns
// their values along with a map indicating which flags were explicitly
// set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the QUERYDESK_CONFIG environment variable when the flag was
// not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("QUERYDESK_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// LoadEnvOverrides applies environment overrides onto the provided cfg
// and reports whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false

	if v := os.Getenv("QUERYDESK_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("QUERYDESK_DB_PATH"); v != "" {
		envUsed = true
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("QUERYDESK_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("QUERYDESK_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("QUERYDESK_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = strings.TrimSpace(v)
	}
	if v := os.Getenv("QUERYDESK_REDIS_URL"); v != "" {
		envUsed = true
		cfg.Notify.RedisURL = v
	}
	if v := os.Getenv("QUERYDESK_NOTIFY_CHANNEL"); v != "" {
		envUsed = true
		cfg.Notify.Channel = v
	}
	if v := os.Getenv("QUERYDESK_RETENTION_ENABLED"); v != "" {
		envUsed = true
		vl := strings.ToLower(strings.TrimSpace(v))
		cfg.Retention.Enabled = vl == "1" || vl == "true" || vl == "yes"
	}
	if v := os.Getenv("QUERYDESK_RETENTION_CRON"); v != "" {
		envUsed = true
		cfg.Retention.Cron = v
	}
	if v := os.Getenv("QUERYDESK_RETENTION_MAX_AGE"); v != "" {
		if td, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Retention.MaxAge = Duration(td)
		}
	}
	return envUsed
}

// LoadEffective loads config from the given path (file) and applies
// environment overrides. Missing files are not fatal; defaults plus env
// overrides still produce a usable config.
func LoadEffective(path string) (EffectiveConfigResult, error) {
	source := "file:" + path
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
		source = "defaults"
	}
	if LoadEnvOverrides(cfg) {
		source += "+env"
	}
	return EffectiveConfigResult{
		Config: cfg,
		Addr:   cfg.Addr(),
		DBPath: cfg.Server.DBPath,
		Source: source,
	}, nil
}
