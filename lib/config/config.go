package config

import (
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Load fills cfg from the environment (defaults included) and then, when path
// is set, overlays the YAML file found there.
func Load(path string, cfg interface{}) error {
	err := envconfig.Process("", cfg)
	if err != nil {
		return err
	}

	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(b, cfg)
}
