package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"kairos-intake/internal/intake"
	"kairos-intake/internal/platform/database"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	StorageDriver string `mapstructure:"STORAGE_DRIVER"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	SQLitePath    string `mapstructure:"SQLITE_PATH"`
	RedisURL      string `mapstructure:"REDIS_URL"`

	EventName        string `mapstructure:"EVENT_NAME"`
	EventLocation    string `mapstructure:"EVENT_LOCATION"`
	NationalIDLength int    `mapstructure:"NATIONAL_ID_LENGTH"`
	IntakeMinFields  int    `mapstructure:"INTAKE_MIN_FIELDS"`
	IntakeMinTurns   int    `mapstructure:"INTAKE_MIN_TURNS"`
	QuestionStrategy string `mapstructure:"INTAKE_QUESTION_STRATEGY"`

	ClassifierModelPath     string  `mapstructure:"CLASSIFIER_MODEL_PATH"`
	ClassifierMinConfidence float64 `mapstructure:"CLASSIFIER_MIN_CONFIDENCE"`
	SeedCorpusPath          string  `mapstructure:"SEED_CORPUS_PATH"`
	CatalogPath             string  `mapstructure:"CATALOG_PATH"`

	OracleEnabled       bool          `mapstructure:"ORACLE_ENABLED"`
	OracleAPIKey        string        `mapstructure:"ORACLE_API_KEY"`
	OracleBaseURL       string        `mapstructure:"ORACLE_BASE_URL"`
	OracleModel         string        `mapstructure:"ORACLE_MODEL"`
	OracleTimeout       time.Duration `mapstructure:"ORACLE_TIMEOUT"`
	OracleTemperature   float32       `mapstructure:"ORACLE_TEMPERATURE"`
	OracleMaxTokens     int           `mapstructure:"ORACLE_MAX_TOKENS"`
	OracleRPS           float64       `mapstructure:"ORACLE_RPS"`
	OracleDailyLimit    int64         `mapstructure:"ORACLE_DAILY_LIMIT"`
	OracleMonthlyBudget float64       `mapstructure:"ORACLE_MONTHLY_BUDGET"`

	ResolverCacheMinConfidence float64 `mapstructure:"RESOLVER_CACHE_MIN_CONFIDENCE"`

	LearningInterval         time.Duration `mapstructure:"LEARNING_INTERVAL"`
	LearningWindow           time.Duration `mapstructure:"LEARNING_WINDOW"`
	LearningMinRepeats       int           `mapstructure:"LEARNING_MIN_REPEATS"`
	LearningRetrainThreshold int           `mapstructure:"LEARNING_RETRAIN_THRESHOLD"`
	LearningMinExamples      int           `mapstructure:"LEARNING_MIN_EXAMPLES"`
	LearningMaxDuplicates    int           `mapstructure:"LEARNING_MAX_DUPLICATES"`

	SessionIdleTimeout time.Duration `mapstructure:"SESSION_IDLE_TIMEOUT"`
	WorkerPoolSize     int           `mapstructure:"WORKER_POOL_SIZE"`

	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	DoctorChatID     int64  `mapstructure:"DOCTOR_CHAT_ID"`
	ReportFontPath   string `mapstructure:"REPORT_FONT_PATH"`
}

var defaults = map[string]any{
	"PORT":                          "8080",
	"ENV":                           "development",
	"LOG_LEVEL":                     "info",
	"CORS_ORIGINS":                  "*",
	"STORAGE_DRIVER":                "postgres",
	"SQLITE_PATH":                   "kairos.db",
	"EVENT_NAME":                    "Evento Kairos",
	"EVENT_LOCATION":                "Stand Principal",
	"NATIONAL_ID_LENGTH":            8,
	"INTAKE_MIN_FIELDS":             4,
	"INTAKE_MIN_TURNS":              5,
	"INTAKE_QUESTION_STRATEGY":      "static",
	"CLASSIFIER_MODEL_PATH":         "data/classifier.bin",
	"CLASSIFIER_MIN_CONFIDENCE":     0.6,
	"SEED_CORPUS_PATH":              "data/intents.yaml",
	"CATALOG_PATH":                  "data/catalog.yaml",
	"ORACLE_ENABLED":                false,
	"ORACLE_BASE_URL":               "https://api.openai.com/v1",
	"ORACLE_MODEL":                  "gpt-4o-mini",
	"ORACLE_TIMEOUT":                "30s",
	"ORACLE_TEMPERATURE":            0.3,
	"ORACLE_MAX_TOKENS":             1000,
	"ORACLE_RPS":                    2,
	"ORACLE_DAILY_LIMIT":            100,
	"ORACLE_MONTHLY_BUDGET":         10,
	"RESOLVER_CACHE_MIN_CONFIDENCE": 0.70,
	"LEARNING_INTERVAL":             "24h",
	"LEARNING_WINDOW":               "168h",
	"LEARNING_MIN_REPEATS":          5,
	"LEARNING_RETRAIN_THRESHOLD":    10,
	"LEARNING_MIN_EXAMPLES":         20,
	"LEARNING_MAX_DUPLICATES":       5,
	"SESSION_IDLE_TIMEOUT":          "30m",
	"WORKER_POOL_SIZE":              4,
}

// keys without a default still need binding so Unmarshal sees them
var unsetKeys = []string{
	"DATABASE_URL", "REDIS_URL", "ORACLE_API_KEY", "TELEGRAM_BOT_TOKEN", "DOCTOR_CHAT_ID", "REPORT_FONT_PATH",
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
		_ = v.BindEnv(k)
	}
	for _, k := range unsetKeys {
		_ = v.BindEnv(k)
	}

	// a missing .env is fine
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool { return c.Env == "development" }

func (c *Config) Dialect() database.Dialect { return database.Dialect(c.StorageDriver) }

// DSN is the connection string for the selected driver.
func (c *Config) DSN() string {
	if c.Dialect() == database.SQLite {
		return c.SQLitePath
	}
	return c.DatabaseURL
}

func (c *Config) Policy() intake.Policy {
	return intake.Policy{MinFields: c.IntakeMinFields, MinTurns: c.IntakeMinTurns}
}

func (c *Config) Strategy() intake.QuestionStrategy {
	s, _ := intake.ParseQuestionStrategy(c.QuestionStrategy)
	return s
}

// Validate checks ranges and driver-specific requirements.
func (c *Config) Validate() error {
	switch c.Dialect() {
	case database.Postgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER is postgres")
		}
	case database.SQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORAGE_DRIVER is sqlite")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be \"postgres\" or \"sqlite\", got %q", c.StorageDriver)
	}

	if _, err := intake.ParseQuestionStrategy(c.QuestionStrategy); err != nil {
		return fmt.Errorf("INTAKE_QUESTION_STRATEGY: %w", err)
	}
	if c.NationalIDLength < 1 || c.NationalIDLength > 20 {
		return fmt.Errorf("NATIONAL_ID_LENGTH must be between 1 and 20, got %d", c.NationalIDLength)
	}
	if c.IntakeMinFields < 1 || c.IntakeMinFields > 6 {
		return fmt.Errorf("INTAKE_MIN_FIELDS must be between 1 and 6, got %d", c.IntakeMinFields)
	}
	if c.IntakeMinTurns < 1 {
		return fmt.Errorf("INTAKE_MIN_TURNS must be positive, got %d", c.IntakeMinTurns)
	}
	for name, v := range map[string]float64{
		"CLASSIFIER_MIN_CONFIDENCE":     c.ClassifierMinConfidence,
		"RESOLVER_CACHE_MIN_CONFIDENCE": c.ResolverCacheMinConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if c.OracleEnabled && c.OracleAPIKey == "" {
		return fmt.Errorf("ORACLE_API_KEY is required when ORACLE_ENABLED is true")
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT must be positive")
	}
	if c.OracleDailyLimit < 0 || c.OracleMonthlyBudget < 0 {
		return fmt.Errorf("oracle limits cannot be negative")
	}
	if c.LearningInterval <= 0 || c.LearningWindow <= 0 {
		return fmt.Errorf("LEARNING_INTERVAL and LEARNING_WINDOW must be positive")
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive")
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("WORKER_POOL_SIZE must be at least 1, got %d", c.WorkerPoolSize)
	}
	return nil
}
