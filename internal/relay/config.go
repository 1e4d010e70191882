package relay

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the relay server settings.
type Config struct {
	Addr           string     `yaml:"addr"`
	AllowedOrigins []string   `yaml:"allowed_origins"`
	Conn           ConnConfig `yaml:"conn"`
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":4444",
		AllowedOrigins: []string{"*"},
		Conn:           DefaultConnConfig(),
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults as is.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
