package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Gateway GatewayConfig
	Queue   QueueConfig
	Drain   DrainConfig
	Worker  WorkerConfig
	Redis   RedisConfig
	OpenAI  OpenAIConfig
	Email   EmailConfig

	RecipientsFile string `env:"RECIPIENTS_FILE" envDefault:"recipients.yaml"`
}

type ServerConfig struct {
	Address string `env:"SERVER_ADDRESS" envDefault:":8080"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type GatewayConfig struct {
	Token        string        `env:"WASSELLER_TOKEN,required"`
	BaseURL      string        `env:"WASSELLER_API_URL" envDefault:"https://api.waseller.com.br"`
	CountryCode  string        `env:"WASSELLER_COUNTRY_CODE" envDefault:"55"`
	Timeout      time.Duration `env:"WASSELLER_TIMEOUT" envDefault:"10s"`
	ProbeTimeout time.Duration `env:"PROBE_TIMEOUT" envDefault:"3s"`
	ContentMax   int           `env:"CONTENT_MAX" envDefault:"4096"`
}

type QueueConfig struct {
	DBPath      string        `env:"QUEUE_DB_PATH" envDefault:"message_queue.db"`
	PostgresURL string        `env:"QUEUE_POSTGRES_URL"`
	BackupPath  string        `env:"QUEUE_BACKUP_PATH" envDefault:"message_queue_backup.json"`
	MaxAttempts int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"3"`
	RetryDelay  time.Duration `env:"RETRY_DELAY" envDefault:"5s"`
}

// Driver reports which queue backend the configuration selects.
func (q QueueConfig) Driver() (driver, dsn string) {
	if q.PostgresURL != "" {
		return "pgx", q.PostgresURL
	}
	return "sqlite", q.DBPath
}

type DrainConfig struct {
	Delay          time.Duration `env:"DRAIN_DELAY" envDefault:"1s"`
	Interval       time.Duration `env:"DRAIN_INTERVAL" envDefault:"2m"`
	BatchSize      int           `env:"DRAIN_BATCH_SIZE" envDefault:"10"`
	PurgeAfterDays int           `env:"PURGE_AFTER_DAYS" envDefault:"7"`
}

type WorkerConfig struct {
	Workers   int `env:"WORKERS" envDefault:"4"`
	QueueSize int `env:"WORKER_QUEUE_SIZE" envDefault:"64"`
}

type RedisConfig struct {
	Enabled    bool   `env:"-"`
	Address    string `env:"REDIS_ADDR"`
	Password   string `env:"REDIS_PASSWORD"`
	DB         int    `env:"REDIS_DB" envDefault:"0"`
	TTLSeconds int    `env:"REDIS_TTL_SECONDS" envDefault:"86400"`

	TTL time.Duration `env:"-"`
}

type OpenAIConfig struct {
	APIKey  string `env:"OPENAI_API_KEY"`
	Model   string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	BaseURL string `env:"OPENAI_BASE_URL"`
}

func (o OpenAIConfig) Enabled() bool { return o.APIKey != "" }

type EmailConfig struct {
	SMTPServer string   `env:"EMAIL_SMTP_SERVER" envDefault:"smtp.gmail.com"`
	SMTPPort   int      `env:"EMAIL_SMTP_PORT" envDefault:"587"`
	From       string   `env:"EMAIL_FROM"`
	Password   string   `env:"EMAIL_PASSWORD"`
	To         []string `env:"EMAIL_TO" envSeparator:","`
}

func (e EmailConfig) Enabled() bool {
	return e.SMTPServer != "" && e.From != "" && e.Password != "" && len(e.To) > 0
}

func LoadAll() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Redis.Enabled = cfg.Redis.Address != ""
	cfg.Redis.TTL = time.Duration(cfg.Redis.TTLSeconds) * time.Second

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("WASSELLER_TIMEOUT must be > 0"))
	}
	if cfg.Gateway.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("PROBE_TIMEOUT must be > 0"))
	}
	if cfg.Gateway.ContentMax <= 0 {
		errs = append(errs, errors.New("CONTENT_MAX must be > 0"))
	}
	if cfg.Queue.MaxAttempts <= 0 {
		errs = append(errs, errors.New("QUEUE_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.Queue.RetryDelay < 0 {
		errs = append(errs, errors.New("RETRY_DELAY must be >= 0"))
	}
	if cfg.Queue.PostgresURL == "" && cfg.Queue.DBPath == "" {
		errs = append(errs, errors.New("QUEUE_DB_PATH or QUEUE_POSTGRES_URL must be set"))
	}
	if cfg.Drain.Delay < 0 {
		errs = append(errs, errors.New("DRAIN_DELAY must be >= 0"))
	}
	if cfg.Drain.Interval < 0 {
		errs = append(errs, errors.New("DRAIN_INTERVAL must be >= 0"))
	}
	if cfg.Drain.BatchSize <= 0 {
		errs = append(errs, errors.New("DRAIN_BATCH_SIZE must be > 0"))
	}
	if cfg.Drain.PurgeAfterDays <= 0 {
		errs = append(errs, errors.New("PURGE_AFTER_DAYS must be > 0"))
	}
	if cfg.Worker.Workers <= 0 {
		errs = append(errs, errors.New("WORKERS must be > 0"))
	}
	if cfg.Worker.QueueSize <= 0 {
		errs = append(errs, errors.New("WORKER_QUEUE_SIZE must be > 0"))
	}
	if cfg.Redis.Enabled && cfg.Redis.TTLSeconds <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}

	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
