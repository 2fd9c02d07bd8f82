package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Config holds application configuration
type Config struct {
	Port         string
	SQLiteDBPath string
	LogLevel     string

	// OverdueSweepSchedule is a cron expression (descriptors like @hourly allowed).
	OverdueSweepSchedule string

	MaxMonthlyRatePct decimal.Decimal
	DefaultCycleDays  int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// parseErrors holds env values that could not be parsed and fell back to defaults.
	parseErrors []string
}

// Load reads configuration from the environment, after loading a .env file if present.
func Load() *Config {
	// Missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		SQLiteDBPath:         getEnv("SQLITE_DB_PATH", "microloan.db"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		OverdueSweepSchedule: getEnv("OVERDUE_SWEEP_SCHEDULE", "@hourly"),
	}
	cfg.MaxMonthlyRatePct = cfg.getEnvDecimal("MAX_MONTHLY_RATE_PCT", decimal.NewFromInt(20))
	cfg.DefaultCycleDays = cfg.getEnvInt("DEFAULT_CYCLE_DAYS", 30)
	cfg.ReadTimeout = cfg.getEnvDuration("READ_TIMEOUT", 10*time.Second)
	cfg.WriteTimeout = cfg.getEnvDuration("WRITE_TIMEOUT", 10*time.Second)
	return cfg
}

// Validate returns every configuration problem at once.
func (c *Config) Validate() error {
	problems := append([]string(nil), c.parseErrors...)

	if port, err := strconv.Atoi(c.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		problems = append(problems, "SQLite database path cannot be empty")
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("invalid log level '%s'", c.LogLevel))
	}

	if _, err := cron.ParseStandard(c.OverdueSweepSchedule); err != nil {
		problems = append(problems, fmt.Sprintf("invalid overdue sweep schedule '%s': %v", c.OverdueSweepSchedule, err))
	}

	if !c.MaxMonthlyRatePct.IsPositive() {
		problems = append(problems, fmt.Sprintf("invalid max monthly rate %s: must be positive", c.MaxMonthlyRatePct))
	}

	if c.DefaultCycleDays < 1 {
		problems = append(problems, fmt.Sprintf("invalid default cycle days %d: must be at least 1", c.DefaultCycleDays))
	}

	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		problems = append(problems, "HTTP timeouts must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// Logger builds the application logger for the configured level.
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultVal
}

func (c *Config) invalidEnv(key, value, want string) {
	c.parseErrors = append(c.parseErrors, fmt.Sprintf("invalid %s '%s': must be %s", key, value, want))
}

func (c *Config) getEnvInt(key string, defaultVal int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		c.invalidEnv(key, value, "an integer")
		return defaultVal
	}
	return i
}

func (c *Config) getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		c.invalidEnv(key, value, "a duration such as 10s")
		return defaultVal
	}
	return d
}

func (c *Config) getEnvDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		c.invalidEnv(key, value, "a decimal number")
		return defaultVal
	}
	return d
}
