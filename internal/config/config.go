package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eargollo/hashcheck/internal/digest"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	Paths                []string `yaml:"paths"                  json:"paths"`
	ExcludePaths         []string `yaml:"exclude_paths"          json:"exclude_paths"`
	AlgorithmNames       []string `yaml:"algorithms"             json:"algorithms"`
	Uppercase            bool     `yaml:"uppercase"              json:"uppercase"`
	Watermark            int      `yaml:"watermark"              json:"watermark"`
	Timed                bool     `yaml:"timed"                  json:"timed"`
	DBPath               string   `yaml:"db_path"                json:"-"`
	HTTPAddr             string   `yaml:"http_addr"              json:"-"`
	Schedule             string   `yaml:"schedule"               json:"schedule"`
	HistoryRetentionDays int      `yaml:"history_retention_days" json:"history_retention_days"`
	Walkers              int      `yaml:"walkers"                json:"walkers"`
	LogLevel             string   `yaml:"log_level"              json:"-"`
	OutputDir            string   `yaml:"output_dir"             json:"output_dir"`
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if len(c.AlgorithmNames) == 0 {
		c.AlgorithmNames = digest.DefaultSet.Names()
	}
	if c.Watermark == 0 {
		c.Watermark = 50
	}
	if c.DBPath == "" {
		c.DBPath = "hashcheck.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.HistoryRetentionDays == 0 {
		c.HistoryRetentionDays = 30
	}
	if c.Walkers == 0 {
		c.Walkers = 4
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
}

// Algorithms parses the configured algorithm names into a Set.
func (c *Config) Algorithms() (digest.Set, error) {
	set, err := digest.ParseSet(c.AlgorithmNames)
	if err != nil {
		return 0, fmt.Errorf("config algorithms: %w", err)
	}
	return set, nil
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so the tool
// can run on command-line arguments alone.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		var cfg Config
		cfg.applyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	if _, err := cfg.Algorithms(); err != nil {
		return nil, err
	}
	if cfg.Watermark < 0 {
		return nil, fmt.Errorf("config watermark: must not be negative, got %d", cfg.Watermark)
	}
	return &cfg, nil
}
