package config

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Gateway struct {
	BaseURL       string `mapstructure:"base-url"`
	SecretKey     string `mapstructure:"secret-key"`
	PublicKey     string `mapstructure:"public-key"`
	WebhookSecret string `mapstructure:"webhook-secret"`
	TimeoutMs     int    `mapstructure:"timeout-ms"`
}

type Sweeper struct {
	IntervalMs    int `mapstructure:"interval-ms"`
	GracePeriodMs int `mapstructure:"grace-period-ms"`
	BatchSize     int `mapstructure:"batch-size"`
	MaxAttempts   int `mapstructure:"max-attempts"`
}

type Mailer struct {
	URL        string `mapstructure:"url"`
	APIKey     string `mapstructure:"api-key"`
	From       string `mapstructure:"from"`
	AdminEmail string `mapstructure:"admin-email"`
	TimeoutMs  int    `mapstructure:"timeout-ms"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	PaymentEvents string `mapstructure:"payment-events"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
}

type OutboxProducer struct {
	PollingIntervalMs  int `mapstructure:"polling-interval-ms"`
	FetchSize          int `mapstructure:"fetch-size"`
	RescheduleDelayMs  int `mapstructure:"reschedule-delay-ms"`
	MaxPublishAttempts int `mapstructure:"max-publish-attempts"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL string `mapstructure:"url"`
}

type Config struct {
	Server   Server         `mapstructure:"server"`
	Database Database       `mapstructure:"database"`
	Gateway  Gateway        `mapstructure:"gateway"`
	Sweeper  Sweeper        `mapstructure:"sweeper"`
	Mailer   Mailer         `mapstructure:"mailer"`
	Kafka    Kafka          `mapstructure:"kafka"`
	Outbox   OutboxProducer `mapstructure:"outbox"`
	Metrics  Metrics        `mapstructure:"metrics"`
	Logs     Logs           `mapstructure:"logs"`
}

func LoadConfig(path string) (*Config, error) {
	// a local .env wins over the yaml file; a missing .env is fine
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}
