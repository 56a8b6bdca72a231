package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	API         APIConfig         `yaml:"api"`
	Sync        SyncConfig        `yaml:"sync"`
	HTTP        HTTPConfig        `yaml:"http"`
	Credentials CredentialsConfig `yaml:"credentials"`
	LogLevel    string            `yaml:"log_level"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RabbitMQConfig configures the optional sample publisher. Leaving URL empty
// disables publishing entirely.
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Product string        `yaml:"product"`
	Version string        `yaml:"version"`
}

type SyncConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Expiration  time.Duration `yaml:"expiration"`
	SourceLabel string        `yaml:"source_label"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// CredentialsConfig carries the secret the vault's encryption key is derived
// from. Set it through the environment, not the file.
type CredentialsConfig struct {
	EncryptionSecret string `yaml:"encryption_secret"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://api-de.libreview.io/llu"
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 30 * time.Second
	}
	if c.API.Product == "" {
		c.API.Product = "llu.ios"
	}
	if c.API.Version == "" {
		c.API.Version = "4.12.0"
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = time.Hour
	}
	if c.Sync.Expiration == 0 {
		c.Sync.Expiration = 5 * time.Minute
	}
	if c.Sync.SourceLabel == "" {
		c.Sync.SourceLabel = "Libre Cloud"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.RabbitMQ.URL != "" {
		if c.RabbitMQ.Exchange == "" {
			c.RabbitMQ.Exchange = "glucosesync"
		}
		if c.RabbitMQ.RoutingKey == "" {
			c.RabbitMQ.RoutingKey = "samples"
		}
		if c.RabbitMQ.QueueName == "" {
			c.RabbitMQ.QueueName = "health_samples"
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
