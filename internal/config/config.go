package config

import (
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"time"    // For refresh intervals and lock timings

	"github.com/joho/godotenv"      // For loading .env files
	"github.com/shopspring/decimal" // For fee rate and tolerance
)

// Config holds the application configuration
type Config struct {
	AppPort        string // Application port
	DBUser         string // Database user
	DBPassword     string // Database password
	DBHost         string // Database host
	DBPort         string // Database port
	DBName         string // Database name
	DBMaxOpenConns int    // Connection pool size
	DBMaxIdleConns int    // Idle connections kept in the pool
	JWTSecret      string // JWT secret key
	RedisAddr      string // Redis server address
	RedisPass      string // Redis password
	RedisDB        int    // Redis database number
	IsProd         bool   // Is production environment
	LogLevel       string // logrus level name
	LogFormat      string // "text" or "json"
	StoreDriver    string // "mysql" or "memory"

	FeeRate           decimal.Decimal // Platform fee on cash deposits
	VarianceTolerance decimal.Decimal // Allocation variance allowed without notes

	PriceFeedURL            string          // Spot price endpoint; empty uses StaticPrice
	StaticPrice             decimal.Decimal // USD per gram when no feed is configured
	PriceRefreshInterval    time.Duration   // Spot price refresh cadence
	CoverageRefreshInterval time.Duration   // Exposure recompute cadence
	LockTTL                 time.Duration   // Redis lock lease
	LockWait                time.Duration   // Bounded wait for wallet locks
	CacheTTL                time.Duration   // Dashboard cache lifetime
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	return &Config{
		AppPort:        getEnv("APP_PORT", "8080"),      // Application port
		DBUser:         os.Getenv("DB_USER"),            // Database user
		DBPassword:     os.Getenv("DB_PASSWORD"),        // Database password
		DBHost:         getEnv("DB_HOST", "127.0.0.1"),  // Database host
		DBPort:         getEnv("DB_PORT", "3306"),       // Database port
		DBName:         os.Getenv("DB_NAME"),            // Database name
		DBMaxOpenConns: getInt("DB_MAX_OPEN_CONNS", 25), // Pool size
		DBMaxIdleConns: getInt("DB_MAX_IDLE_CONNS", 5),  // Idle pool size
		JWTSecret:      os.Getenv("JWT_SECRET"),         // JWT secret key
		RedisAddr:      os.Getenv("REDIS_ADDR"),         // Redis server address
		RedisPass:      os.Getenv("REDIS_PASS"),         // Redis password
		RedisDB:        redisDB,                         // Redis database number
		IsProd:         os.Getenv("IS_PROD") == "true",  // Is production environment
		LogLevel:       getEnv("LOG_LEVEL", "info"),     // Log level
		LogFormat:      getEnv("LOG_FORMAT", "text"),    // Log format
		StoreDriver:    getEnv("STORE_DRIVER", "mysql"), // Persistence backend

		FeeRate:           getDecimal("FEE_RATE", "0.005"),          // 0.5%
		VarianceTolerance: getDecimal("VARIANCE_TOLERANCE", "0.01"), // 1%

		PriceFeedURL:            os.Getenv("PRICE_FEED_URL"),                             // Spot price endpoint
		StaticPrice:             getDecimal("STATIC_GOLD_PRICE", "0"),                    // Fallback price
		PriceRefreshInterval:    getDuration("PRICE_REFRESH_INTERVAL", time.Minute),      // Price cadence
		CoverageRefreshInterval: getDuration("COVERAGE_REFRESH_INTERVAL", 5*time.Minute), // Coverage cadence
		LockTTL:                 getDuration("LOCK_TTL", 30*time.Second),                 // Lock lease
		LockWait:                getDuration("LOCK_WAIT", 5*time.Second),                 // Lock wait
		CacheTTL:                getDuration("CACHE_TTL", time.Minute),                   // Cache lifetime
	}
}

// getEnv returns the variable or a default when unset
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v // Use the configured value
	}
	return def // Fall back to the default
}

// getInt parses an integer variable, falling back on absence or error
func getInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

// getDuration parses a Go duration such as "90s" or "5m"
func getDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}

// getDecimal parses a decimal variable
func getDecimal(key, def string) decimal.Decimal {
	if v, err := decimal.NewFromString(os.Getenv(key)); err == nil {
		return v
	}
	return decimal.RequireFromString(def)
}
