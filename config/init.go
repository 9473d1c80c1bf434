package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	yaml "gopkg.in/yaml.v2"
)

const DefaultPath = "config.yml"

// reading config error is fatal, and exists main thread
func processError(err error) {
	fmt.Println(err)
	os.Exit(2)
}

func readFile(path string, cfg *Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// environment overrides the file, e.g. SENTINEL_SERVER_REDIS_HOST
func readEnv(cfg *Configuration) error {
	return envconfig.Process("sentinel", cfg)
}

// Load reads path, overlays the environment, applies defaults and
// validates the result.
func Load(path string) (*Configuration, error) {
	var cfg Configuration
	if err := readFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := readEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Init(path string) {
	if path == "" {
		path = DefaultPath
	}
	cfg, err := Load(path)
	if err != nil {
		processError(err)
	}
	Config = *cfg
}
