// Package config загружает конфигурацию сервиса из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры,
// а godotenv — чтобы подхватить локальный .env при разработке.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Драйверы хранилища участников
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	// Дефолт "postgres" — имя сервиса в docker-compose, для локалки переопредели DB_HOST=localhost.
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	DBHost      string `envconfig:"DB_HOST" default:"postgres"`
	DBPort      int    `envconfig:"DB_PORT" default:"5432"`
	DBUser      string `envconfig:"DB_USER" default:"valuecard"`
	DBPassword  string `envconfig:"DB_PASSWORD"`
	DBName      string `envconfig:"DB_NAME" default:"valuecard"`
	DBSSLMode   string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	// --- HTTP ---
	HTTPAddr           string  `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPRateLimitRPS   float64 `envconfig:"HTTP_RATE_LIMIT_RPS" default:"10"`
	HTTPRateLimitBurst int     `envconfig:"HTTP_RATE_LIMIT_BURST" default:"20"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Asia/Bangkok"`

	// --- Telegram ---
	// Пустой токен = уведомления только пишутся в лог.
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `envconfig:"TELEGRAM_CHAT_ID"`

	// --- Notification sink ---
	NotifyRetries    int           `envconfig:"NOTIFY_RETRIES" default:"2"`
	NotifyRetryDelay time.Duration `envconfig:"NOTIFY_RETRY_DELAY" default:"2s"`
	NotifyTimeout    time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"15s"`
	NotifyQueueSize  int           `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`

	// --- Store adapter / engine ---
	StoreTimeout     time.Duration `envconfig:"STORE_TIMEOUT" default:"10s"`
	StoreReadRetries int           `envconfig:"STORE_READ_RETRIES" default:"2"`
	LockTimeout      time.Duration `envconfig:"LOCK_TIMEOUT" default:"15s"`
	LedgerRetries    int           `envconfig:"LEDGER_RETRIES" default:"3"`
	LedgerQueueSize  int           `envconfig:"LEDGER_QUEUE_SIZE" default:"1024"`
	MemberCacheTTL   time.Duration `envconfig:"MEMBER_CACHE_TTL" default:"5s"`
	SettingsCacheTTL time.Duration `envconfig:"SETTINGS_CACHE_TTL" default:"30s"`

	// --- Loyalty ---
	PointsEnabledDefault bool   `envconfig:"POINTS_ENABLED_DEFAULT" default:"true"`
	TiersFile            string `envconfig:"TIERS_FILE"`
	CardPrefix           string `envconfig:"CARD_PREFIX" default:"CF"`

	// --- Jobs ---
	DailyReportCron string `envconfig:"DAILY_REPORT_CRON" default:"0 22 * * *"`

	// --- Tracing ---
	// Пустой endpoint = трейсинг выключен (no-op провайдер).
	OTelEndpoint string `envconfig:"OTEL_ENDPOINT"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// IsDevelopment — удобная проверка окружения.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD обязателен для STORE_DRIVER=postgres")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("неизвестный STORE_DRIVER %q", c.StoreDriver)
	}
	if c.TelegramBotToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID обязателен, если задан TELEGRAM_BOT_TOKEN")
	}
	if c.NotifyRetries < 0 || c.LedgerRetries < 0 || c.StoreReadRetries < 0 {
		return fmt.Errorf("количество повторов не может быть отрицательным")
	}
	if c.NotifyTimeout <= 0 || c.StoreTimeout <= 0 || c.LockTimeout <= 0 {
		return fmt.Errorf("таймауты должны быть > 0")
	}
	if c.NotifyQueueSize <= 0 || c.LedgerQueueSize <= 0 {
		return fmt.Errorf("размеры очередей должны быть > 0")
	}
	if c.HTTPRateLimitRPS <= 0 || c.HTTPRateLimitBurst <= 0 {
		return fmt.Errorf("HTTP_RATE_LIMIT_RPS и HTTP_RATE_LIMIT_BURST должны быть > 0")
	}
	if c.CardPrefix == "" {
		return fmt.Errorf("CARD_PREFIX не может быть пустым")
	}
	return nil
}

// Load читает .env (если есть) и переменные окружения и заполняет структуру Config.
// Переменные окружения имеют приоритет над .env.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("не удалось прочитать .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
