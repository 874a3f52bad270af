package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"deux_backend/pkg/retry"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	chatTelegramENV   = "TELEGRAM_CHAT_ID"
	databaseDSN       = "DATABASE_DSN"
	jaegerHostENV     = "JAEGER_HOST"
	webhookAddrENV    = "WEBHOOK_ADDR"
	adminAddrENV      = "ADMIN_ADDR"
)

// Config ...
type Config struct {
	Service struct {
		Name        string `yaml:"name"`
		WebhookAddr string `yaml:"webhook_addr"`
		AdminAddr   string `yaml:"admin_addr"`
	} `yaml:"service"`

	Log struct {
		Development bool `yaml:"development"`
	} `yaml:"log"`

	DB struct {
		DSN             string        `yaml:"dsn"`
		MaxConns        int32         `yaml:"max_conns"`
		MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	} `yaml:"db"`

	Jaeger struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"jaeger"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Broker    Broker            `yaml:"broker"`
	Webhook   Webhook           `yaml:"webhook"`
	Engine    Engine            `yaml:"engine"`
	Monitor   Monitor           `yaml:"monitor"`
	Sharing   Sharing           `yaml:"sharing"`
	Enricher  Enricher          `yaml:"enricher"`
	PriceFeed PriceFeed         `yaml:"pricefeed"`
	Exchanges []ExchangeBinding `yaml:"exchanges"`
}

type QueueConfig struct {
	Workers int `yaml:"workers"`
	Buffer  int `yaml:"buffer"`
}

type Broker struct {
	// имя очереди -> воркеры/буфер
	Queues map[string]QueueConfig `yaml:"queues"`
}

type Webhook struct {
	Path      string        `yaml:"path"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
	Timeout   time.Duration `yaml:"timeout"`
}

type Engine struct {
	PlaceOrderRetry   retry.Policy  `yaml:"place_order_retry"`
	BalanceRetry      retry.Policy  `yaml:"balance_retry"`
	ResolveFillPrice  bool          `yaml:"resolve_fill_price"`
	FillPricePoll     time.Duration `yaml:"fill_price_poll"`
	FillPriceTimeout  time.Duration `yaml:"fill_price_timeout"`
	HTTPClientTimeout time.Duration `yaml:"http_client_timeout"`
}

type Monitor struct {
	Period      time.Duration `yaml:"period"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
}

type Sharing struct {
	CacheSize   int           `yaml:"cache_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	Countdown   time.Duration `yaml:"countdown"`
	Concurrency int           `yaml:"concurrency"`
}

type Enricher struct {
	MaxRetries    int           `yaml:"max_retries"`
	BaseCountdown time.Duration `yaml:"base_countdown"`
	Window        time.Duration `yaml:"window"`
}

type PriceFeed struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Symbols       []string      `yaml:"symbols"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ExchangeBinding связывает exchange_id из базы с реализацией адаптера.
type ExchangeBinding struct {
	ID      int64  `yaml:"id"`
	Kind    string `yaml:"kind"` // okx | okx_demo | binance | binance_demo | bingx
	BaseURL string `yaml:"base_url"`
}

// Default: значения, которые перекрываются файлом и окружением.
func Default() Config {
	cfg := Config{}
	cfg.Service.Name = "signal-pipeline"
	cfg.Service.WebhookAddr = ":5000"
	cfg.Service.AdminAddr = ":8080"
	cfg.DB.MaxConns = 20
	cfg.Jaeger.Host = "localhost"
	cfg.Jaeger.Port = 6831

	cfg.Broker.Queues = map[string]QueueConfig{
		"webhook": {Workers: 4, Buffer: 1024},
		"logic":   {Workers: 8, Buffer: 1024},
		"ops":     {Workers: 8, Buffer: 1024},
		"persist": {Workers: 4, Buffer: 1024},
		"sharing": {Workers: 2, Buffer: 256},
		"panic":   {Workers: 2, Buffer: 64},
		"price":   {Workers: 2, Buffer: 1024},
	}

	cfg.Webhook = Webhook{Path: "/webhook", RateLimit: 20, Burst: 50, Timeout: 5 * time.Second}

	cfg.Engine = Engine{
		PlaceOrderRetry:   retry.Policy{Attempts: 3, Multiplier: 2, Min: 2 * time.Second, Max: 10 * time.Second},
		BalanceRetry:      retry.Policy{Attempts: 2, Multiplier: 1, Min: time.Second, Max: 5 * time.Second},
		FillPricePoll:     time.Second,
		FillPriceTimeout:  90 * time.Second,
		HTTPClientTimeout: 10 * time.Second,
	}

	cfg.Monitor = Monitor{Period: 5 * time.Second, MaxLifetime: time.Hour}
	cfg.Sharing = Sharing{CacheSize: 128, CacheTTL: 10 * time.Minute, Countdown: time.Second, Concurrency: 8}
	cfg.Enricher = Enricher{MaxRetries: 10, BaseCountdown: 30 * time.Second, Window: 5 * time.Minute}
	cfg.PriceFeed = PriceFeed{URL: "wss://ws.okx.com:8443/ws/v5/public", FlushInterval: time.Second}
	return cfg
}

func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	configFileName := getenvDefault(configFilePathENV, "values_local.yaml")
	dir := getenvDefault(configDirENV, "configs")

	cfg, err := Load(dir + "/" + configFileName)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load читает yaml поверх дефолтов.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config file")
	}

	defer func() {
		_ = file.Close()
	}()

	config := Default()
	if err = yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, errors.Wrap(err, "decode config file")
	}
	return &config, nil
}

func applyEnv(config *Config) {
	if token := os.Getenv(tokenTelegramENV); token != "" {
		config.Telegram.Token = token
	}
	config.Telegram.ChatID = int64FromEnv(chatTelegramENV, config.Telegram.ChatID)

	if dsn := os.Getenv(databaseDSN); dsn != "" {
		config.DB.DSN = dsn
	}

	config.Jaeger.Host = getenvDefault(jaegerHostENV, config.Jaeger.Host)
	config.Service.WebhookAddr = getenvDefault(webhookAddrENV, config.Service.WebhookAddr)
	config.Service.AdminAddr = getenvDefault(adminAddrENV, config.Service.AdminAddr)
	config.Log.Development = boolFromEnv("LOG_DEVELOPMENT", config.Log.Development)
	config.PriceFeed.Enabled = boolFromEnv("PRICEFEED_ENABLED", config.PriceFeed.Enabled)
}

func (c *Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("config: db dsn is required (%s)", databaseDSN)
	}
	seen := make(map[int64]struct{}, len(c.Exchanges))
	for _, e := range c.Exchanges {
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("config: duplicate exchange id %d", e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	if c.Monitor.Period <= 0 {
		return fmt.Errorf("config: monitor.period must be positive")
	}
	if c.Monitor.MaxLifetime <= 0 {
		return fmt.Errorf("config: monitor.max_lifetime must be positive")
	}
	return nil
}

// Queue отдаёт настройки очереди, для неизвестной: один воркер.
func (c *Config) Queue(name string) QueueConfig {
	q, ok := c.Broker.Queues[name]
	if !ok || q.Workers < 1 {
		q.Workers = 1
	}
	if q.Buffer < 0 {
		q.Buffer = 0
	}
	return q
}

func int64FromEnv(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
