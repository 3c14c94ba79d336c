package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	AI       AIConfig
	Platform PlatformConfig
	Sync     SyncConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// AIConfig holds the contact-scoring provider configuration
type AIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// PlatformConfig holds messaging-platform API configuration
type PlatformConfig struct {
	BaseURL  string
	PageSize int
}

// SyncConfig holds tunables for the contact sync pipeline
type SyncConfig struct {
	MaxConcurrency   int     // in-flight conversations per job
	BatchSize        int     // contact aggregator target batch size
	ChunkSize        int     // bulk write chunk size
	ProgressInterval float64 // seconds between coalesced progress writes
	CacheTTLSeconds  int     // message cache entry lifetime
	CacheMaxEntries  int     // message cache size bound
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "crmsync"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "crmsync.db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		AI: AIConfig{
			BaseURL:     getEnv("AI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      getEnv("AI_API_KEY", ""),
			Model:       getEnv("AI_MODEL", "gpt-4o-mini"),
			MaxTokens:   getEnvAsInt("AI_MAX_TOKENS", 500),
			Temperature: getEnvAsFloat("AI_TEMPERATURE", 0.2),
		},
		Platform: PlatformConfig{
			BaseURL:  getEnv("PLATFORM_BASE_URL", "https://graph.example.com/v19.0"),
			PageSize: getEnvAsInt("PLATFORM_PAGE_SIZE", 50),
		},
		Sync: SyncConfig{
			MaxConcurrency:   getEnvAsInt("SYNC_MAX_CONCURRENCY", 30),
			BatchSize:        getEnvAsInt("SYNC_BATCH_SIZE", 200),
			ChunkSize:        getEnvAsInt("SYNC_CHUNK_SIZE", 100),
			ProgressInterval: getEnvAsFloat("SYNC_PROGRESS_INTERVAL", 2.0),
			CacheTTLSeconds:  getEnvAsInt("SYNC_CACHE_TTL", 600),
			CacheMaxEntries:  getEnvAsInt("SYNC_CACHE_MAX_ENTRIES", 1000),
		},
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as float or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// ServerAddress returns the full server address
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}
