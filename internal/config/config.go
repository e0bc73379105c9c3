package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Queue backends
const (
	QueueBackendRabbitMQ = "rabbitmq"
	QueueBackendRedis    = "redis"
	QueueBackendMemory   = "memory"
)

// Notifier types
const (
	NotifierCallback = "callback"
	NotifierTelegram = "telegram"
	NotifierNone     = "none"
)

// Fleet sources
const (
	FleetSourcePostgres = "postgres"
	FleetSourceStatic   = "static"
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Redis       RedisConfig       `yaml:"redis"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Queue       QueueConfig       `yaml:"queue"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Worker      WorkerConfig      `yaml:"worker"`
	Inference   InferenceConfig   `yaml:"inference"`
	Notifier    NotifierConfig    `yaml:"notifier"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Autoscaling AutoscalingConfig `yaml:"autoscaling"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string            `yaml:"host"`
	Port       int               `yaml:"port"`
	User       string            `yaml:"user"`
	Password   string            `yaml:"password"`
	VHost      string            `yaml:"vhost"`
	Exchange   ExchangeConfig    `yaml:"exchange"`
	Queue      RabbitQueueConfig `yaml:"queue"`
	RoutingKey string            `yaml:"routing_key"`
	Connection ConnectionConfig  `yaml:"connection"`
	Publish    PublishConfig     `yaml:"publish"`
	DeadLetter DeadLetterConfig  `yaml:"dead_letter"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// RabbitQueueConfig holds RabbitMQ queue configuration
type RabbitQueueConfig struct {
	Name          string `yaml:"name"`
	Durable       bool   `yaml:"durable"`
	AutoDelete    bool   `yaml:"auto_delete"`
	Exclusive     bool   `yaml:"exclusive"`
	DeliveryLimit int    `yaml:"delivery_limit"`
}

// DeadLetterConfig names where rejected messages are routed
type DeadLetterConfig struct {
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish settings
type PublishConfig struct {
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

// RedisConfig holds Redis connection settings used by the lease queue and the result cache
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	QueueKey string        `yaml:"queue_key"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// ObjectStoreConfig holds S3-compatible object store settings
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// QueueConfig holds the work queue contract settings shared by every backend
type QueueConfig struct {
	Backend           string        `yaml:"backend"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	ReceiveWait       time.Duration `yaml:"receive_wait"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxReceives       int           `yaml:"max_receives"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	WorkDir                string        `yaml:"work_dir"`
	LeaseExtensionInterval time.Duration `yaml:"lease_extension_interval"`
	PollBackoff            time.Duration `yaml:"poll_backoff"`
	ShutdownTimeout        time.Duration `yaml:"shutdown_timeout"`
}

// InferenceConfig describes the external detection command
type InferenceConfig struct {
	Command    string        `yaml:"command"`
	Args       []string      `yaml:"args"`
	WorkingDir string        `yaml:"working_dir"`
	DataFile   string        `yaml:"data_file"`
	ProjectDir string        `yaml:"project_dir"`
	Timeout    time.Duration `yaml:"timeout"`
}

// NotifierConfig selects how requesters learn about completed jobs
type NotifierConfig struct {
	Type        string        `yaml:"type"`
	CallbackURL string        `yaml:"callback_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TelegramConfig holds the bot credentials and webhook settings
type TelegramConfig struct {
	Token      string `yaml:"token"`
	WebhookURL string `yaml:"webhook_url"`
	SetWebhook bool   `yaml:"set_webhook"`
}

// AutoscalingConfig holds metric streamer settings
type AutoscalingConfig struct {
	FleetName      string         `yaml:"fleet_name"`
	FleetSource    string         `yaml:"fleet_source"`
	StaticFleets   map[string]int `yaml:"static_fleets"`
	Interval       time.Duration  `yaml:"interval"`
	CycleTimeout   time.Duration  `yaml:"cycle_timeout"`
	MetricName     string         `yaml:"metric_name"`
	PushgatewayURL string         `yaml:"pushgateway_url"`
	PushJob        string         `yaml:"push_job"`
}

// MetricsConfig holds the Prometheus listener settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Load reads and parses the configuration file.
// ${VAR} references are expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Validate checks the settings every service depends on
func (c *Config) Validate() error {
	switch c.Queue.Backend {
	case QueueBackendRabbitMQ:
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	case QueueBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis queue backend")
		}
	case QueueBackendMemory:
	default:
		return fmt.Errorf("invalid queue backend: %q", c.Queue.Backend)
	}

	if c.Queue.VisibilityTimeout <= 0 {
		return fmt.Errorf("queue visibility_timeout must be greater than 0")
	}

	if c.Queue.ReceiveWait <= 0 {
		return fmt.Errorf("queue receive_wait must be greater than 0")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateObjectStore() error {
	if c.ObjectStore.Endpoint == "" {
		return fmt.Errorf("object store endpoint is required")
	}

	if c.ObjectStore.Bucket == "" {
		return fmt.Errorf("object store bucket is required")
	}

	return nil
}

// ValidateAPIConfig checks the api-service configuration
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	return c.validateObjectStore()
}

// ValidateWorkerConfig checks the worker-service configuration
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateObjectStore(); err != nil {
		return err
	}

	if c.Worker.WorkDir == "" {
		return fmt.Errorf("worker work_dir is required")
	}

	if c.Worker.LeaseExtensionInterval < 0 {
		return fmt.Errorf("worker lease_extension_interval must not be negative")
	}

	if c.Worker.LeaseExtensionInterval >= c.Queue.VisibilityTimeout {
		return fmt.Errorf("worker lease_extension_interval must be shorter than queue visibility_timeout")
	}

	if c.Inference.Command == "" {
		return fmt.Errorf("inference command is required")
	}

	if c.Inference.ProjectDir == "" {
		return fmt.Errorf("inference project_dir is required")
	}

	switch c.Notifier.Type {
	case NotifierCallback:
		if c.Notifier.CallbackURL == "" {
			return fmt.Errorf("notifier callback_url is required for the callback notifier")
		}
	case NotifierTelegram:
		if c.Telegram.Token == "" {
			return fmt.Errorf("telegram token is required for the telegram notifier")
		}
	case NotifierNone:
	default:
		return fmt.Errorf("invalid notifier type: %q", c.Notifier.Type)
	}

	return nil
}

// ValidateStreamerConfig checks the metric-streamer configuration
func (c *Config) ValidateStreamerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Autoscaling.FleetName == "" {
		return fmt.Errorf("autoscaling fleet_name is required")
	}

	if c.Autoscaling.Interval <= 0 {
		return fmt.Errorf("autoscaling interval must be greater than 0")
	}

	switch c.Autoscaling.FleetSource {
	case FleetSourcePostgres:
		return c.validateDatabase()
	case FleetSourceStatic:
		return nil
	default:
		return fmt.Errorf("invalid autoscaling fleet_source: %q", c.Autoscaling.FleetSource)
	}
}
