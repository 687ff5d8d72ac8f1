package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of config.yaml read straight from a file rather
// than through the viper singleton, for when the project directory is not
// the one Initialize discovered (pf init on an existing project, tests).
type LocalConfig struct {
	Backend string `yaml:"backend"`
	DB      string `yaml:"db"`
	Status  struct {
		Mode     string `yaml:"mode"`
		Interval string `yaml:"interval"`
	} `yaml:"status"`
}

// LoadLocalConfig reads and parses config.yaml from dir (a .printfleet
// directory). Dotted top-level keys ("status.mode: websocket") and nested
// maps are both understood.
//
// Returns an empty LocalConfig (not nil) if the file doesn't exist or can't be parsed.
func LoadLocalConfig(dir string) *LocalConfig {
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml")) // #nosec G304 - path from caller
	if err != nil {
		return &LocalConfig{}
	}
	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	var flat map[string]interface{}
	if yaml.Unmarshal(data, &flat) == nil {
		if s, ok := flat["status.mode"].(string); ok {
			cfg.Status.Mode = s
		}
		if s, ok := flat["status.interval"].(string); ok {
			cfg.Status.Interval = s
		}
	}
	return &cfg
}
