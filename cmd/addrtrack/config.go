package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/quaylane/addrtrack/conflate"
	"github.com/quaylane/addrtrack/download"
	"github.com/quaylane/addrtrack/report"
)

// config is the combined addrtrack.yaml file. Every section is optional;
// package defaults apply to whatever is left unset.
type config struct {
	DB       string          `yaml:"db"`
	Download download.Config `yaml:"download"`
	Report   report.Config   `yaml:"report"`
	Conflate conflate.Config `yaml:"conflate"`
	Serve    serveConfig     `yaml:"serve"`
}

type serveConfig struct {
	Addr string `yaml:"addr"`
}

func (c *config) defaults() {
	if c.DB == "" {
		c.DB = filepath.Join("data", "addresses.db")
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = ":8091"
	}
	// The server reads these directly; keep them in step with the report
	// package defaults.
	if c.Report.ReportsDir == "" {
		c.Report.ReportsDir = "reports"
	}
	if c.Report.DocsDir == "" {
		c.Report.DocsDir = "docs"
	}
}

// loadConfig reads the YAML config at path. A missing file is fine when
// the path is the default: everything runs on package defaults.
func loadConfig(path string, required bool) (*config, error) {
	cfg := &config{}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			cfg.defaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.defaults()
	return cfg, nil
}
