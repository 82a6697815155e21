package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/clinicore/report-exporter/internal/errors"
)

type AppConfig struct {
	File     string          `json:"-"`
	HTTP     *HTTPConfig     `json:"http,omitempty"`
	Consul   *ConsulConfig   `json:"consul,omitempty"`
	Redis    *RedisConfig    `json:"redis,omitempty"`
	Database *DatabaseConfig `json:"database,omitempty"`
	Export   *ExportConfig   `json:"export,omitempty"`
	Mailgun  *MailgunConfig  `json:"mailgun,omitempty"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type ConsulConfig struct {
	Id            string `json:"id"`
	Address       string `json:"address"`
	PublicAddress string `json:"publicAddress"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type DatabaseConfig struct {
	Url string `json:"url"`
}

type ExportConfig struct {
	Workers             int           `json:"workers"`
	TickInterval        time.Duration `json:"tickInterval"`
	JobTimeout          time.Duration `json:"jobTimeout"`
	DeliveryConcurrency int           `json:"deliveryConcurrency"`
	ArtifactDir         string        `json:"artifactDir"`
	RetentionDays       int           `json:"retentionDays"`
	// SourceViews maps template categories to the reporting views the
	// data source queries, e.g. {"clinical": "reporting.clinical_visits"}.
	SourceViews map[string]string `json:"sourceViews"`
}

type MailgunConfig struct {
	Domain string `json:"domain"`
	Key    string `json:"key"`
	From   string `json:"from"`
}

func LoadConfig() (*AppConfig, error) {
	bindFlagsAndEnv()

	configFile := getConfigFilePath()
	if configFile != "" {
		if err := loadFromFile(configFile); err != nil {
			return nil, err
		}
	}

	cfg := buildAppConfig(configFile)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func bindFlagsAndEnv() {
	pflag.String("config_file", "", "Configuration file in JSON format")

	// database
	pflag.String("data_source", "", "Data source")

	// http
	pflag.String("http_addr", "localhost:10031", "HTTP listen address")

	// consul
	pflag.String("id", "", "Service id")
	pflag.String("consul", "", "Host to consul")
	pflag.String("public_addr", "", "Public HTTP address with port")

	// redis
	pflag.String("redis_addr", "localhost:6379", "Redis address")
	pflag.String("redis_password", "", "Redis password")
	pflag.Int("redis_db", 0, "Redis DB number")

	// export pipeline
	pflag.Int("workers", 4, "Number of concurrent export workers")
	pflag.Duration("tick_interval", time.Minute, "Scheduler tick interval")
	pflag.Duration("job_timeout", 5*time.Minute, "Deadline for a single export job")
	pflag.Int("delivery_concurrency", 4, "Concurrent notifier calls per job")
	pflag.String("artifact_dir", "artifacts", "Directory for generated artifacts")
	pflag.Int("retention_days", 30, "Default history retention in days")

	// mailgun
	pflag.String("mailgun_domain", "", "Mailgun domain")
	pflag.String("mailgun_key", "", "Mailgun API key")
	pflag.String("mailgun_from", "", "Mailgun sender address")

	pflag.Parse()

	_ = viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Explicit mapping
	_ = viper.BindEnv("id", "CONSUL_ID")
	_ = viper.BindEnv("consul", "CONSUL_HOST")
	_ = viper.BindEnv("http_addr", "HTTP_ADDR")
	_ = viper.BindEnv("public_addr", "PUBLIC_ADDR")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis_db", "REDIS_DB")
	_ = viper.BindEnv("mailgun_domain", "MAILGUN_DOMAIN")
	_ = viper.BindEnv("mailgun_key", "MAILGUN_KEY")
	_ = viper.BindEnv("mailgun_from", "MAILGUN_FROM")
}

func getConfigFilePath() string {
	file := viper.GetString("config_file")
	if file == "" {
		file = os.Getenv("REPORT_EXPORTER_CONFIG_FILE")
	}
	return file
}

func loadFromFile(path string) error {
	viper.SetConfigFile(path)
	viper.SetConfigType("json")
	if err := viper.ReadInConfig(); err != nil {
		return errors.Internal(fmt.Sprintf("could not load config file: %s", err.Error()))
	}
	return nil
}

func buildAppConfig(file string) *AppConfig {
	return &AppConfig{
		File:     file,
		Database: &DatabaseConfig{Url: viper.GetString("data_source")},
		HTTP:     &HTTPConfig{Addr: viper.GetString("http_addr")},
		Export: &ExportConfig{
			Workers:             viper.GetInt("workers"),
			TickInterval:        viper.GetDuration("tick_interval"),
			JobTimeout:          viper.GetDuration("job_timeout"),
			DeliveryConcurrency: viper.GetInt("delivery_concurrency"),
			ArtifactDir:         viper.GetString("artifact_dir"),
			RetentionDays:       viper.GetInt("retention_days"),
			SourceViews:         viper.GetStringMapString("source_views"),
		},
		Consul: &ConsulConfig{
			Id:            viper.GetString("id"),
			Address:       viper.GetString("consul"),
			PublicAddress: viper.GetString("public_addr"),
		},
		Redis: &RedisConfig{
			Addr:     viper.GetString("redis_addr"),
			Password: viper.GetString("redis_password"),
			DB:       viper.GetInt("redis_db"),
		},
		Mailgun: &MailgunConfig{
			Domain: viper.GetString("mailgun_domain"),
			Key:    viper.GetString("mailgun_key"),
			From:   viper.GetString("mailgun_from"),
		},
	}
}

func validateConfig(cfg *AppConfig) error {
	if cfg.Database.Url == "" {
		return errors.Internal("Data source is required")
	}
	if cfg.HTTP.Addr == "" {
		return errors.Internal("HTTP address is required")
	}
	if cfg.Consul.Id == "" {
		return errors.Internal("Service id is required")
	}
	if cfg.Consul.Address == "" {
		return errors.Internal("Consul address is required")
	}
	if cfg.Consul.PublicAddress == "" {
		return errors.Internal("Public address is required")
	}
	if cfg.Redis.Addr == "" {
		return errors.Internal("Redis address is required")
	}
	if cfg.Export.Workers <= 0 {
		cfg.Export.Workers = 4
	}
	if cfg.Export.TickInterval <= 0 {
		cfg.Export.TickInterval = time.Minute
	}
	if cfg.Export.JobTimeout <= 0 {
		cfg.Export.JobTimeout = 5 * time.Minute
	}
	if cfg.Export.RetentionDays <= 0 {
		cfg.Export.RetentionDays = 30
	}
	return nil
}
