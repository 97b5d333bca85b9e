package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Lockout  LockoutConfig
	Factors  map[string]FactorSettings
	Notify   NotifyConfig
	Secrets  SecretConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// LockoutConfig holds the process-wide lockout policy, read-only at runtime.
type LockoutConfig struct {
	Threshold int // failed attempts allowed before a lockable factor locks
}

// FactorSettings is the per-factor-type configuration slice.
type FactorSettings struct {
	Enabled           bool
	Weight            int
	ThresholdOverride int      // 0 means the global lockout threshold applies
	AllowedCIDRs      []string // ipcheck factor only
}

type NotifyConfig struct {
	SESRegion   string
	FromAddress string
	// SecurityAddress receives lockout warnings when no per-user address
	// resolver is plugged in. Empty disables email delivery.
	SecurityAddress string
}

type SecretConfig struct {
	EncryptionKey   []byte // 32-byte AES-256 key for factor secrets at rest
	Issuer          string
	ChallengeKey    string // HMAC key for challenge tokens
	ChallengeExpiry time.Duration
}

// FactorTypes known to this deployment; each gets a FactorSettings entry.
var FactorTypes = []string{"totp", "recovery", "device", "ipcheck"}

func Load() (*Config, error) {
	_ = godotenv.Load()

	encKey := getEnv("FACTOR_ENCRYPTION_KEY", "")
	if len(encKey) != 32 {
		return nil, fmt.Errorf("FACTOR_ENCRYPTION_KEY must be exactly 32 bytes (got %d)", len(encKey))
	}

	challengeKey := getEnv("CHALLENGE_SECRET", "")
	if challengeKey == "" {
		return nil, fmt.Errorf("CHALLENGE_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "factorgate"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      env,
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Lockout: LockoutConfig{
			Threshold: getEnvAsInt("LOCKOUT_THRESHOLD", 3),
		},
		Factors: loadFactorSettings(),
		Notify: NotifyConfig{
			SESRegion:       getEnv("SES_REGION", "us-east-1"),
			FromAddress:     getEnv("NOTIFY_FROM_ADDRESS", ""),
			SecurityAddress: getEnv("NOTIFY_SECURITY_ADDRESS", ""),
		},
		Secrets: SecretConfig{
			EncryptionKey:   []byte(encKey),
			Issuer:          getEnv("FACTOR_ISSUER", "factorgate"),
			ChallengeKey:    challengeKey,
			ChallengeExpiry: getEnvAsDuration("CHALLENGE_EXPIRY", 5*time.Minute),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if cfg.Lockout.Threshold < 0 {
		return nil, fmt.Errorf("LOCKOUT_THRESHOLD must be >= 0 (got %d)", cfg.Lockout.Threshold)
	}

	return cfg, nil
}

// loadFactorSettings reads FACTOR_<TYPE>_ENABLED / _WEIGHT / _THRESHOLD for
// every known factor type. Factors default to disabled unless explicitly
// turned on.
func loadFactorSettings() map[string]FactorSettings {
	settings := make(map[string]FactorSettings, len(FactorTypes))
	for _, t := range FactorTypes {
		prefix := "FACTOR_" + strings.ToUpper(t)
		s := FactorSettings{
			Enabled:           getEnvAsBool(prefix+"_ENABLED", false),
			Weight:            getEnvAsInt(prefix+"_WEIGHT", 0),
			ThresholdOverride: getEnvAsInt(prefix+"_THRESHOLD", 0),
		}
		if t == "ipcheck" {
			s.AllowedCIDRs = getEnvAsList(prefix+"_ALLOWED_CIDRS", nil)
		}
		settings[t] = s
	}
	return settings
}

// Factor returns the settings for a factor type, zero-valued (disabled)
// when the type is unknown.
func (c *Config) Factor(factorType string) FactorSettings {
	return c.Factors[factorType]
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		return parts
	}
	return defaultVal
}
