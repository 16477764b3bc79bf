package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vo-tools/tokengate"
)

// fileConfig is the YAML shape of the CLI config file. Durations use Go
// syntax ("1.2s", "500ms").
type fileConfig struct {
	TrustedOPs            []string `yaml:"trusted_ops"`
	IssuerURL             string   `yaml:"issuer"`
	OPHint                string   `yaml:"op_hint"`
	OPFile                string   `yaml:"op_file"`
	ClientID              string   `yaml:"client_id"`
	ClientSecret          string   `yaml:"client_secret"`
	InsecureSkipTLSVerify bool     `yaml:"insecure_skip_tls_verify"`
	NumRequestWorkers     int      `yaml:"num_request_workers"`
	ClientConnectTimeout  string   `yaml:"client_connect_timeout"`
	CacheLifetime         string   `yaml:"cache_lifetime"`
	RequestsPerSecond     float64  `yaml:"requests_per_second"`
}

// loadConfig reads the optional YAML config file and applies the test
// override environment variables.
func loadConfig(path string) (tokengate.Config, error) {
	var cfg tokengate.Config

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
		cfg.TrustedOPs = fc.TrustedOPs
		cfg.IssuerURL = fc.IssuerURL
		cfg.OPHint = fc.OPHint
		cfg.OPFile = fc.OPFile
		cfg.ClientID = fc.ClientID
		cfg.ClientSecret = fc.ClientSecret
		cfg.InsecureSkipTLSVerify = fc.InsecureSkipTLSVerify
		cfg.NumRequestWorkers = fc.NumRequestWorkers
		cfg.RequestsPerSecond = fc.RequestsPerSecond
		if fc.ClientConnectTimeout != "" {
			d, err := time.ParseDuration(fc.ClientConnectTimeout)
			if err != nil {
				return cfg, fmt.Errorf("parsing client_connect_timeout: %w", err)
			}
			cfg.ClientConnectTimeout = d
		}
		if fc.CacheLifetime != "" {
			d, err := time.ParseDuration(fc.CacheLifetime)
			if err != nil {
				return cfg, fmt.Errorf("parsing cache_lifetime: %w", err)
			}
			cfg.CacheLifetime = d
		}
	}

	overrides, err := tokengate.TestOverridesFromEnv()
	if err != nil {
		return cfg, err
	}
	cfg.Overrides = overrides
	return cfg, nil
}
