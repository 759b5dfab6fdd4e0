/**
 * @description
 * This file handles the configuration management for the refund-service.
 * It uses the Viper library to read settings from environment variables or a .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: For configuration management.
 */
package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	SessionJWTSecret string `mapstructure:"SESSION_JWT_SECRET"`
	SessionStore     string `mapstructure:"SESSION_STORE"`

	EventsExchange string `mapstructure:"EVENTS_EXCHANGE"`

	QueueEnabled               bool `mapstructure:"QUEUE_ENABLED"`
	QueueWorkerConcurrency     int  `mapstructure:"QUEUE_WORKER_CONCURRENCY"`
	QueueMaxAttempts           int  `mapstructure:"QUEUE_MAX_ATTEMPTS"`
	QueuePollIntervalMS        int  `mapstructure:"QUEUE_POLL_INTERVAL_MS"`
	QueueRetentionMinutes      int  `mapstructure:"QUEUE_RETENTION_MINUTES"`
	QueueStaleProcessingSecond int  `mapstructure:"QUEUE_STALE_PROCESSING_SECONDS"`

	HeartbeatSeconds int `mapstructure:"HEARTBEAT_SECONDS"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8090")
	viper.SetDefault("SESSION_STORE", "jwt")
	viper.SetDefault("EVENTS_EXCHANGE", "refund.events")
	viper.SetDefault("QUEUE_ENABLED", true)
	viper.SetDefault("QUEUE_WORKER_CONCURRENCY", 5)
	viper.SetDefault("QUEUE_MAX_ATTEMPTS", 3)
	viper.SetDefault("QUEUE_POLL_INTERVAL_MS", 500)
	viper.SetDefault("QUEUE_RETENTION_MINUTES", 60)
	viper.SetDefault("QUEUE_STALE_PROCESSING_SECONDS", 120)
	viper.SetDefault("HEARTBEAT_SECONDS", 30)

	// Bind envs explicitly so containers pick them up reliably
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SESSION_JWT_SECRET")
	_ = viper.BindEnv("SESSION_STORE")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("QUEUE_ENABLED")
	_ = viper.BindEnv("QUEUE_WORKER_CONCURRENCY")
	_ = viper.BindEnv("QUEUE_MAX_ATTEMPTS")
	_ = viper.BindEnv("QUEUE_POLL_INTERVAL_MS")
	_ = viper.BindEnv("QUEUE_RETENTION_MINUTES")
	_ = viper.BindEnv("QUEUE_STALE_PROCESSING_SECONDS")
	_ = viper.BindEnv("HEARTBEAT_SECONDS")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("Warning: Error reading config file: %s", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
