package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultConfigPath   = "MultiBackend.toml"
	defaultBatchWorkers = 4
)

// Config is the process environment: where the multi-backend file lives,
// how batches fan out and how to reach Vault and the metrics listener.
type Config struct {
	ConfigPath     string
	ConfigDir      string
	MetricsAddr    string
	BatchWorkers   int
	VaultAddr      string
	VaultToken     string
	VaultNamespace string
}

// Load reads the environment, after applying a .env file in the working
// directory when there is one.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	env := envReader(os.Getenv)
	cfg := Config{
		ConfigPath:     env.str("ILS_CONFIG", defaultConfigPath),
		ConfigDir:      env.str("ILS_CONFIG_DIR", ""),
		MetricsAddr:    env.str("METRICS_ADDR", ""),
		BatchWorkers:   env.positive("ILS_BATCH_WORKERS", defaultBatchWorkers),
		VaultAddr:      env.str("VAULT_ADDR", ""),
		VaultToken:     env.str("VAULT_TOKEN", ""),
		VaultNamespace: env.str("VAULT_NAMESPACE", ""),
	}
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = filepath.Dir(cfg.ConfigPath)
	}
	return cfg, nil
}

type envReader func(string) string

func (r envReader) str(key, def string) string {
	if v := strings.TrimSpace(r(key)); v != "" {
		return v
	}
	return def
}

// positive falls back to def for values that are not positive integers.
func (r envReader) positive(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(r(key)))
	if err != nil || n < 1 {
		return def
	}
	return n
}
