package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	AMQP struct {
		URL      string `envconfig:"AMQP_URL"`
		Exchange string `envconfig:"AMQP_ACTIVITY_EXCHANGE" default:"activity_events"`
	} `envconfig:""`

	Gemini struct {
		APIKey  string        `envconfig:"GEMINI_API_KEY"`
		BaseURL string        `envconfig:"GEMINI_BASE_URL"`
		Model   string        `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash-latest"`
		Timeout time.Duration `envconfig:"GEMINI_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Giphy struct {
		APIKey  string        `envconfig:"GIPHY_API_KEY"`
		BaseURL string        `envconfig:"GIPHY_BASE_URL"`
		Timeout time.Duration `envconfig:"GIPHY_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Scheduler struct {
		PollPeriod      time.Duration `envconfig:"REMINDER_POLL_PERIOD" default:"1m"`
		DeliveryTimeout time.Duration `envconfig:"REMINDER_DELIVERY_TIMEOUT" default:"15s"`
	} `envconfig:""`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
