// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
// Для локального запуска переменные можно положить в .env (godotenv).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	TelegramBotToken string  `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	AdminIDsRaw      string  `envconfig:"ADMIN_IDS" required:"true"`
	AdminIDs         []int64 `envconfig:"-"` // заполним вручную

	// --- Database ---
	// Если задан DATABASE_URL, поля DB_* игнорируются.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBHost      string `envconfig:"DB_HOST" default:"postgres"`
	DBPort      int    `envconfig:"DB_PORT" default:"5432"`
	DBUser      string `envconfig:"DB_USER" default:"botuser"`
	DBPassword  string `envconfig:"DB_PASSWORD"`
	DBName      string `envconfig:"DB_NAME" default:"wallet_bot"`
	DBSSLMode   string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Redis ---
	// Пустой REDIS_URL = антиспам в памяти процесса.
	RedisURL string `envconfig:"REDIS_URL"`

	// --- HTTP (webhook + tool API) ---
	HTTPPort   int    `envconfig:"HTTP_PORT" default:"8080"`
	ToolAPIKey string `envconfig:"TOOL_API_KEY"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Asia/Ho_Chi_Minh"`

	// --- Bot runtime ---
	// Сколько апдейтов обрабатываем параллельно. Иначе "go на каждый апдейт" = утечка памяти при флуде.
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Таймаут long polling (секунды)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Top-up ---
	TopupMinAmount int64  `envconfig:"TOPUP_MIN_AMOUNT" default:"10000"`
	GiftAmount     int64  `envconfig:"GIFT_AMOUNT" default:"5100"`
	SepayAccount   string `envconfig:"SEPAY_ACCOUNT"`
	SepayBank      string `envconfig:"SEPAY_BANK" default:"VietinBank"`

	// --- Anti-spam ---
	SpamThreshold    int           `envconfig:"SPAM_THRESHOLD" default:"5"`
	SpamWindow       time.Duration `envconfig:"SPAM_WINDOW" default:"20s"`
	BanDuration      time.Duration `envconfig:"BAN_DURATION" default:"1h"`
	EscalationTTL    time.Duration `envconfig:"ESCALATION_TTL" default:"720h"`
	CallbackCooldown time.Duration `envconfig:"CALLBACK_COOLDOWN" default:"2s"`
	CommandCooldown  time.Duration `envconfig:"COMMAND_COOLDOWN" default:"1s"`
	TextCooldown     time.Duration `envconfig:"TEXT_COOLDOWN" default:"1s"`

	// --- QR login ---
	QRAPIBase       string        `envconfig:"QR_API_BASE" default:"http://qr-api:8000"`
	QRPollInterval  time.Duration `envconfig:"QR_POLL_INTERVAL" default:"3s"`
	QRTimeout       time.Duration `envconfig:"QR_TIMEOUT" default:"5m"`
	QRStartDelay    time.Duration `envconfig:"QR_START_DELAY" default:"2s"`
	QRFee           int64         `envconfig:"QR_FEE" default:"100"`
	QRMaxFailures   int           `envconfig:"QR_MAX_FAILURES" default:"5"`
	QRFailureWindow time.Duration `envconfig:"QR_FAILURE_WINDOW" default:"5m"`
	QRDefaultSPCF   string        `envconfig:"QR_DEFAULT_SPC_F"`

	// --- Caches ---
	CacheRowTTL        time.Duration `envconfig:"CACHE_ROW_TTL" default:"1h"`
	CacheRecipientsTTL time.Duration `envconfig:"CACHE_RECIPIENTS_TTL" default:"5m"`
	CacheCatalogueTTL  time.Duration `envconfig:"CACHE_CATALOGUE_TTL" default:"60s"`

	// --- Shop ---
	// Пустой SHOP_API_BASE = каталог пуст, покупки недоступны.
	ShopAPIBase   string `envconfig:"SHOP_API_BASE"`
	ShopRedeemURL string `envconfig:"SHOP_REDEEM_URL" default:"https://shopee.vn/api/v2/voucher_wallet/save_vouchers"`
	ShopMaxCreds  int    `envconfig:"SHOP_MAX_CREDENTIALS" default:"10"`

	// --- Broadcast ---
	BroadcastCooldown time.Duration `envconfig:"BROADCAST_COOLDOWN" default:"60s"`
	BroadcastDelay    time.Duration `envconfig:"BROADCAST_DELAY" default:"50ms"`

	// --- Reports ---
	// Пустой REPORT_DAILY_SCHEDULE отключает отправку отчёта по расписанию.
	ReportDailySchedule string `envconfig:"REPORT_DAILY_SCHEDULE" default:"55 23 * * *"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// PrimaryAdmin — кому уходят служебные уведомления (баны, алерты). 0 если админ не задан.
func (c *Config) PrimaryAdmin() int64 {
	if len(c.AdminIDs) == 0 {
		return 0
	}
	return c.AdminIDs[0]
}

// IsAdmin проверяет, входит ли пользователь в ADMIN_IDS.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" && c.DBPassword == "" {
		return errors.New("нужен DATABASE_URL или DB_PASSWORD")
	}
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.SpamThreshold <= 0 || c.SpamWindow <= 0 {
		return fmt.Errorf("SPAM_THRESHOLD и SPAM_WINDOW должны быть > 0")
	}
	if c.QRPollInterval <= 0 || c.QRTimeout <= c.QRPollInterval {
		return fmt.Errorf("QR_TIMEOUT должен быть больше QR_POLL_INTERVAL")
	}
	if c.QRFee < 0 || c.TopupMinAmount <= 0 {
		return fmt.Errorf("некорректные QR_FEE/TOPUP_MIN_AMOUNT")
	}
	return nil
}

// Load читает .env (если есть) и переменные окружения, заполняет структуру Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("Не удалось прочитать .env")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
