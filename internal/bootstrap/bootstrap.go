// Package bootstrap loads the handful of settings the agent needs
// before the durable configuration file exists: working directory,
// admin listen address, and the log level of the agent's logger for the
// whole run (AgentConfig.logLevel does not change it). It follows
// the teacher's getEnv/getIntEnv helper style, with a .env file loaded
// first via godotenv so a local run doesn't need exported shell vars.
package bootstrap

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Settings is the env-var-sourced bootstrap layer.
type Settings struct {
	WorkingDir      string
	AdminListenAddr string
	LogLevel        string
	ConfigRetries   int
}

// Load reads a .env file if present (silently ignored if absent — a
// production deployment sets real environment variables instead) and
// then the process environment, applying defaults for anything unset.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	settings := &Settings{
		WorkingDir:      getEnv("SIEMCORE_WORKING_DIR", "/var/lib/siemcore-agent"),
		AdminListenAddr: getEnv("SIEMCORE_ADMIN_ADDR", "127.0.0.1:8734"),
		LogLevel:        getEnv("SIEMCORE_BOOTSTRAP_LOG_LEVEL", "Information"),
		ConfigRetries:   getIntEnv("SIEMCORE_CONFIG_LOAD_RETRIES", 3),
	}

	if err := settings.validate(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return settings, nil
}

func (s *Settings) validate() error {
	if s.WorkingDir == "" {
		return fmt.Errorf("working directory cannot be empty")
	}
	if s.AdminListenAddr == "" {
		return fmt.Errorf("admin listen address cannot be empty")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
