// Package config provides centralized default values for the FRKB sync server
package config

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		file, err := os.Open(".env")
		if err != nil {
			return
		}
		defer file.Close()

		log.Println("Loading configuration overrides from .env file...")
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}

			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])

			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseBool(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%t (default: %t)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseFloat(valStr, 64); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%g (default: %g)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration

	// Database
	DBDriver                 string
	DBDataSource             string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int
	SlowQueryThreshold       time.Duration

	// Sync Engine
	BatchSize               int
	DefaultPageSize         int
	MaxAnalyzeFingerprints  int
	DefaultFingerprintLimit int
	DiffSessionTTL          time.Duration
	SyncLockTTL             time.Duration

	// Bloom Filter
	BloomFilterEnabled           bool
	BloomFilterFalsePositiveRate float64
	BloomFilterMinCapacity       int
	BloomFilterBasicMultiplier   float64

	// Ephemeral Cache
	CacheEnabled bool
	CacheSize    int
	UserMetaTTL  time.Duration

	// Maintenance
	MaintenanceInterval   time.Duration
	StaleLockSweepAge     time.Duration
	ActiveSessionSweepAge time.Duration

	// Admin / Auth
	AdminUser         string
	AdminPasswordHash string
	JWTSecret         string
	AdminTokenTTL     time.Duration
)

func init() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)

	// Database
	DBDriver = getEnvString("DB_DRIVER", "sqlite3")
	DBDataSource = getEnvString("DB_DATA_SOURCE", "frkb-sync.db")
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetimeMinutes = getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	SlowQueryThreshold = getEnvDuration("SLOW_QUERY_THRESHOLD", 500*time.Millisecond)

	// Sync Engine
	BatchSize = getEnvInt("BATCH_SIZE", 1000)
	DefaultPageSize = getEnvInt("DEFAULT_PAGE_SIZE", 1000)
	MaxAnalyzeFingerprints = getEnvInt("MAX_ANALYZE_FINGERPRINTS", 100000)
	DefaultFingerprintLimit = getEnvInt("DEFAULT_MAX_FINGERPRINTS_PER_USER", 200000)
	DiffSessionTTL = time.Duration(getEnvInt("DIFF_SESSION_TTL_SECONDS", 300)) * time.Second
	SyncLockTTL = time.Duration(getEnvInt("SYNC_LOCK_TTL_MINUTES", 5)) * time.Minute

	// Bloom Filter
	BloomFilterEnabled = getEnvBool("BLOOM_FILTER_ENABLED", true)
	BloomFilterFalsePositiveRate = getEnvFloat("BLOOM_FILTER_FALSE_POSITIVE_RATE", 0.01)
	BloomFilterMinCapacity = getEnvInt("BLOOM_FILTER_MIN_CAPACITY", 50000)
	BloomFilterBasicMultiplier = getEnvFloat("BLOOM_FILTER_BASIC_MULTIPLIER", 1.2)

	// Ephemeral Cache
	CacheEnabled = getEnvBool("CACHE_ENABLED", true)
	CacheSize = getEnvInt("CACHE_SIZE", 10000)
	UserMetaTTL = time.Duration(getEnvInt("USER_META_TTL_MINUTES", 60)) * time.Minute

	// Maintenance
	MaintenanceInterval = time.Duration(getEnvInt("MAINTENANCE_INTERVAL_MINUTES", 5)) * time.Minute
	StaleLockSweepAge = time.Duration(getEnvInt("STALE_LOCK_SWEEP_MINUTES", 10)) * time.Minute
	ActiveSessionSweepAge = time.Duration(getEnvInt("ACTIVE_SESSION_SWEEP_MINUTES", 60)) * time.Minute

	// Admin / Auth
	AdminUser = getEnvString("ADMIN_USER", "admin")
	AdminPasswordHash = getEnvString("ADMIN_PASSWORD_HASH", "")
	JWTSecret = getEnvString("JWT_SECRET", "")
	AdminTokenTTL = getEnvDuration("ADMIN_TOKEN_TTL", 12*time.Hour)
}
