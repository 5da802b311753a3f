package config

import (
	"os"
	"path/filepath"

	"webserver-bench/internal/logging"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Environment holds settings that come from the process environment rather than the
// benchmark file: credentials and host-specific paths.
type Environment struct {
	InfluxToken      string `env:"INFLUXDB_TOKEN"`
	RegistryUser     string `env:"REGISTRY_USER"`
	RegistryPassword string `env:"REGISTRY_PASSWORD"`
	SpoolDir         string `env:"WEBSERVER_BENCH_SPOOL_DIR"`
	DockerHost       string `env:"DOCKER_HOST"`
}

func LoadEnvironment() (*Environment, error) {
	var e Environment
	if err := env.Parse(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

// LoadDotEnv loads a .env file from the working directory, falling back to the directory
// of the executable. Missing files are not an error.
func LoadDotEnv() {
	logger := logging.GetLogger()

	candidates := []string{".env"}
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), ".env"))
	}

	for _, envFile := range candidates {
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
		return
	}
}
