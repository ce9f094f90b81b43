// Package params holds the engine process's top-level configuration: where
// the market registry, vault, retry ledger, and engine-state store persist
// on disk, the oracle endpoint funding settlement polls, and the API
// listen address.
package params

import (
	"os"

	"github.com/joho/godotenv"
)

// Storage groups every on-disk path the engine process opens at startup.
type Storage struct {
	MarketConfigPath string // YAML file, pkg/market.LoadRegistry
	VaultDBPath      string // Pebble, pkg/vault.NewVault
	RetryDBPath      string // Pebble, pkg/retry.NewLedger
	EngineDBPath     string // Pebble, pkg/storage.NewStore
}

// Oracle configures the external price-feed client funding settlement
// polls once per market's funding interval.
type Oracle struct {
	BaseURL string
	Fake    bool // use pkg/oracle.NewFake instead of an HTTP client
}

// API configures the REST/WebSocket listener.
type API struct {
	ListenAddr string
}

type Config struct {
	Storage Storage
	Oracle  Oracle
	API     API
}

func Default() Config {
	return Config{
		Storage: Storage{
			MarketConfigPath: "config/markets.yaml",
			VaultDBPath:      "data/vault",
			RetryDBPath:      "data/retry",
			EngineDBPath:     "data/engine",
		},
		Oracle: Oracle{
			BaseURL: "http://localhost:8090",
			Fake:    false,
		},
		API: API{
			ListenAddr: ":8080",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Storage.MarketConfigPath = getEnv("MARKET_CONFIG_PATH", cfg.Storage.MarketConfigPath)
	cfg.Storage.VaultDBPath = getEnv("VAULT_DB_PATH", cfg.Storage.VaultDBPath)
	cfg.Storage.RetryDBPath = getEnv("RETRY_DB_PATH", cfg.Storage.RetryDBPath)
	cfg.Storage.EngineDBPath = getEnv("ENGINE_DB_PATH", cfg.Storage.EngineDBPath)

	cfg.Oracle.BaseURL = getEnv("ORACLE_BASE_URL", cfg.Oracle.BaseURL)
	if fake := os.Getenv("ORACLE_FAKE"); fake != "" {
		cfg.Oracle.Fake = fake == "true"
	}

	cfg.API.ListenAddr = getEnv("API_LISTEN_ADDR", cfg.API.ListenAddr)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
