package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	BlueprintPath string // hcl blueprint file or directory
	CapsPath      string // yaml capability manifest
	CachePath     string // optional sqlite capability cache

	OutPath string // plan output file, "-" or empty for stdout

	LogFormat   string
	LogLevel    string
	WorkerCount int
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.BlueprintPath == "" {
		return nil, errors.New("BlueprintPath is a required configuration field and cannot be empty")
	}
	if cfg.CapsPath == "" {
		return nil, errors.New("CapsPath is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}
