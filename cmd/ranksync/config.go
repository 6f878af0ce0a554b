package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/asinpulse/ranksync/bitable"
	"github.com/asinpulse/ranksync/pipeline"
	"github.com/asinpulse/ranksync/upstream"
)

// Config is the top-level ranksync configuration.
type Config struct {
	// ListenAddr is the HTTP listen address. Default: ":3001".
	ListenAddr string `yaml:"listen_addr"`
	// DBPath is the local observability database. Default: "ranksync.db".
	DBPath string `yaml:"db_path"`
	// RegistryPath is the workspace registry file. Default:
	// "data/bitables.json".
	RegistryPath string `yaml:"registry_path"`

	Bitable    bitable.Config            `yaml:"bitable"`
	DataScaler upstream.DataScalerConfig `yaml:"datascaler"`
	ScrapeAPI  upstream.ScrapeConfig     `yaml:"scrapeapi"`
	Pipeline   pipeline.Config           `yaml:"pipeline"`

	// Retention in days for recorded cycles and item errors. Zero keeps
	// everything.
	RetentionDays int `yaml:"retention_days"`
}

func (c *Config) defaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":3001"
	}
	if c.DBPath == "" {
		c.DBPath = "ranksync.db"
	}
	if c.RegistryPath == "" {
		c.RegistryPath = "data/bitables.json"
	}
}

// LoadConfigFile reads a YAML config file. An empty path yields defaults.
func LoadConfigFile(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.defaults()
	return cfg, nil
}
