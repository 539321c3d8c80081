package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Tracking TrackingConfig `yaml:"tracking"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                      string `yaml:"host"`
	Port                      int    `yaml:"port"`
	TrackingUpdatedTopicName  string `yaml:"tracking_updated_topic_name"`
	BatchSummaryTopicName     string `yaml:"batch_summary_topic_name"`
	RefreshRequestedTopicName string `yaml:"refresh_requested_topic_name"`
	ConsumerGroup             string `yaml:"consumer_group"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TrackingConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	CurrentStatusTTLSeconds int `yaml:"current_status_ttl_seconds"`

	BatchSize          int `yaml:"batch_size"`
	MaxConcurrent      int `yaml:"max_concurrent"`
	MaxAttempts        int `yaml:"max_attempts"`
	EnqueueLimit       int `yaml:"enqueue_limit"`
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	TrackingIntervalSeconds int `yaml:"tracking_interval_seconds"`
	CleanupIntervalSeconds  int `yaml:"cleanup_interval_seconds"`

	// Poll cadence (optional). Defaults are prod-like: pre-transit 6h,
	// in transit 1h, out for delivery 20m, backoff 5/15/30/60 minutes.
	PreTransitDelaySeconds     int `yaml:"pre_transit_delay_seconds"`
	PickedUpDelaySeconds       int `yaml:"picked_up_delay_seconds"`
	InTransitDelaySeconds      int `yaml:"in_transit_delay_seconds"`
	OutForDeliveryDelaySeconds int `yaml:"out_for_delivery_delay_seconds"`
	ExceptionDelaySeconds      int `yaml:"exception_delay_seconds"`
	UnknownDelaySeconds        int `yaml:"unknown_delay_seconds"`
	NearDeliveryWindowSeconds  int `yaml:"near_delivery_window_seconds"`
	Backoff1Seconds            int `yaml:"backoff_1_seconds"`
	Backoff2Seconds            int `yaml:"backoff_2_seconds"`
	Backoff3Seconds            int `yaml:"backoff_3_seconds"`
	Backoff4Seconds            int `yaml:"backoff_4_seconds"`

	EasyParcelBaseURL string `yaml:"easyparcel_base_url"`
	EasyParcelAPIKey  string `yaml:"easyparcel_api_key"`
	CourierMode       string `yaml:"courier_mode"` // "easyparcel" | "fake"
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
