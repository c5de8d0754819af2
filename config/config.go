package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"outreachly/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type LLMConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"-"`
	Model   string `json:"model"`
	Timeout int    `json:"timeout_seconds"`
}

type Config struct {
	Environment    string    `json:"environment"`
	ServerPort     string    `json:"server_port"`
	EncryptionKey  string    `json:"-"`
	SentryDSN      string    `json:"-"`
	DBHost         string    `json:"db_host"`
	DBPort         string    `json:"db_port"`
	DBUser         string    `json:"db_user"`
	DBPassword     string    `json:"-"`
	DBName         string    `json:"db_name"`
	DBSSLMode      string    `json:"db_ssl_mode"`
	DBMaxIdleConns int       `json:"db_max_idle_conns"`
	DBMaxOpenConns int       `json:"db_max_open_conns"`
	LLM            LLMConfig `json:"llm"`

	// Sending window defaults, local hours. Campaigns may override.
	SendWindowStart int `json:"send_window_start"`
	SendWindowEnd   int `json:"send_window_end"`

	// Follow-up cadence defaults in days after the initial send.
	FollowUp1Days int `json:"follow_up_1_days"`
	FollowUp2Days int `json:"follow_up_2_days"`

	// How many send jobs a single queue-drain trigger may process.
	SendBatchSize int `json:"send_batch_size"`

	SendInterval     time.Duration `json:"-"`
	SignalInterval   time.Duration `json:"-"`
	FollowUpInterval time.Duration `json:"-"`
	WarmupInterval   time.Duration `json:"-"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "outreachly"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		LLM: LLMConfig{
			BaseURL: getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  getEnv("LLM_API_KEY", ""),
			Model:   getEnv("LLM_MODEL", "gpt-4o-mini"),
			Timeout: getEnvAsInt("LLM_TIMEOUT_SECONDS", 60),
		},

		SendWindowStart: getEnvAsInt("SEND_WINDOW_START", 9),
		SendWindowEnd:   getEnvAsInt("SEND_WINDOW_END", 17),
		FollowUp1Days:   getEnvAsInt("FOLLOW_UP_1_DAYS", 5),
		FollowUp2Days:   getEnvAsInt("FOLLOW_UP_2_DAYS", 14),
		SendBatchSize:   getEnvAsInt("SEND_BATCH_SIZE", 5),

		SendInterval:     getEnvAsDuration("SEND_INTERVAL", 30*time.Second),
		SignalInterval:   getEnvAsDuration("SIGNAL_INTERVAL", 15*time.Minute),
		FollowUpInterval: getEnvAsDuration("FOLLOW_UP_INTERVAL", time.Hour),
		WarmupInterval:   getEnvAsDuration("WARMUP_INTERVAL", 24*time.Hour),
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if AppConfig.SendWindowStart < 0 || AppConfig.SendWindowEnd > 24 ||
		AppConfig.SendWindowStart >= AppConfig.SendWindowEnd {
		return fmt.Errorf("invalid sending window [%d, %d)", AppConfig.SendWindowStart, AppConfig.SendWindowEnd)
	}

	if AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         AppConfig.SentryDSN,
			Environment: AppConfig.Environment,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("Successfully connected to the database")
	log.Println("Starting database migration...")
	if err := models.Migrate(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return d
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Sending window: %02d:00-%02d:00, follow-ups at +%dd/+%dd",
		AppConfig.SendWindowStart,
		AppConfig.SendWindowEnd,
		AppConfig.FollowUp1Days,
		AppConfig.FollowUp2Days)
}
