package config

import (
	"notifyhub/pkg/config"
)

// Config is the notification-service configuration.
type Config struct {
	DB       config.DBConfig       `yaml:"db" envconfig:"DB"`
	Kafka    config.KafkaConfig    `yaml:"kafka" envconfig:"KAFKA"`
	MQ       config.MQConfig       `yaml:"mq" envconfig:"MQ"`
	Redis    config.RedisConfig    `yaml:"redis" envconfig:"REDIS"`
	JWT      config.JWTConfig      `yaml:"jwt" envconfig:"JWT"`
	Auth     config.AuthConfig     `yaml:"auth" envconfig:"AUTH"`
	Server   config.ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Otel     config.OtelConfig     `yaml:"otel" envconfig:"OTEL"`
	Log      config.LogConfig      `yaml:"log" envconfig:"LOG"`
	Realtime config.RealtimeConfig `yaml:"realtime" envconfig:"REALTIME"`
}

// Load 使用统一配置中心加载 (CONFIG_ENV, CONFIG_DIR)
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	var cfg Config
	if err := config.Load(env, configDir, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
