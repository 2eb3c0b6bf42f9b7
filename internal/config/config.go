package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config структура конфигурации
type Config struct {
	TelegramBotToken string
	JWTSecret        string
	JWTExpiration    time.Duration
	Port             string
	WebsocketPort    string
	AppEnv           string // Окружение приложения
	LogLevel         string

	StoreDriver    string // memory, bolt, postgres
	BoltPath       string
	DatabaseURL    string
	DatabaseConfig DatabaseConfig

	NATSURL           string
	ActivitySubject   string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	FixturesPath      string
}

// DatabaseConfig содержит конфигурацию базы данных
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// LoadConfig загружает переменные из .env и окружения
func LoadConfig() (*Config, error) {
	// .env не обязателен, переменные окружения имеют приоритет
	_ = godotenv.Load()

	dbConfig := DatabaseConfig{
		Host:     getEnv("PGHOST", "localhost"),
		Port:     getEnv("PGPORT", "5432"),
		User:     getEnv("PGUSER", "flippy_user"),
		Password: getEnv("PGPASSWORD", "flippy_pass"),
		Name:     getEnv("PGDATABASE", "flippy"),
		SSLMode:  getEnv("PGSSLMODE", "disable"),
		MaxConns: int32(getIntEnv("PG_MAX_CONNS", 10)),
		MinConns: int32(getIntEnv("PG_MIN_CONNS", 2)),
	}

	// Формируем строку подключения к базе данных
	dbURL := getEnv("DATABASE_URL", fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name, dbConfig.SSLMode))

	cfg := &Config{
		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTExpiration:     getDurationEnv("JWT_EXPIRATION", 24*time.Hour),
		Port:              getEnv("PORT", "8080"),
		WebsocketPort:     getEnv("WS_PORT", "8081"),
		AppEnv:            getEnv("APP_ENV", "production"), // По умолчанию production
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		StoreDriver:       getEnv("STORE_DRIVER", "postgres"),
		BoltPath:          getEnv("BOLT_PATH", "data/flippy.db"),
		DatabaseURL:       dbURL,
		DatabaseConfig:    dbConfig,
		NATSURL:           getEnv("NATS_URL", ""),
		ActivitySubject:   getEnv("ACTIVITY_SUBJECT", "activity"),
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		FixturesPath:      getEnv("FIXTURES_PATH", "configs/fixtures.yaml"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет обязательные параметры
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("не задана обязательная переменная окружения JWT_SECRET")
	}
	switch c.StoreDriver {
	case "memory", "bolt", "postgres":
	default:
		return fmt.Errorf("неизвестный драйвер хранилища: %s", c.StoreDriver)
	}
	return nil
}

// getEnv получает переменную окружения или использует дефолтное значение
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
