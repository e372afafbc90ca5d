package config

import "time"

// DBConfig 数据库配置
type DBConfig struct {
	Host               string        `yaml:"host" validate:"required"`
	Port               int           `yaml:"port" validate:"required,min=1,max=65535"`
	User               string        `yaml:"user" validate:"required"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name" validate:"required"`
	SSLMode            string        `yaml:"sslmode"`
	MaxConns           int32         `yaml:"max_conns" split_words:"true"`
	MinConns           int32         `yaml:"min_conns" split_words:"true"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" split_words:"true"`
}

// KafkaConfig describes the notification topic and the consumer's timing.
type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers" validate:"required,min=1,dive,required"`
	Topic             string        `yaml:"topic" validate:"required"`
	GroupID           string        `yaml:"group_id" split_words:"true" validate:"required"`
	NumPartitions     int           `yaml:"num_partitions" split_words:"true" validate:"min=1"`
	ReplicationFactor int           `yaml:"replication_factor" split_words:"true" validate:"min=1"`
	PollTimeout       time.Duration `yaml:"poll_timeout" split_words:"true" validate:"gt=0"`
	TopicRetryDelay   time.Duration `yaml:"topic_retry_delay" split_words:"true" validate:"gt=0"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" split_words:"true" validate:"gt=0"`
	MaxRetryBackoff   time.Duration `yaml:"max_retry_backoff" split_words:"true" validate:"gtefield=RetryBackoff"`
	ProcessTimeout    time.Duration `yaml:"process_timeout" split_words:"true" validate:"gt=0"`
	AdminTimeout      time.Duration `yaml:"admin_timeout" split_words:"true" validate:"gt=0"`
}

// MQConfig 消息队列配置 (RabbitMQ backplane)
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret   string `yaml:"secret" validate:"required,min=16"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port            string        `yaml:"port" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

// OtelConfig OpenTelemetry 配置
type OtelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name" split_words:"true"`
	// SampleRatio 根 span 采样比例，0 使用默认 0.1
	SampleRatio float64 `yaml:"sample_ratio" split_words:"true" validate:"gte=0,lte=1"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level"`
}

// AuthConfig lists the users allowed to publish notification batches.
type AuthConfig struct {
	AdminUserIDs []string `yaml:"admin_user_ids" split_words:"true" validate:"dive,uuid"`
}

// RealtimeConfig 实时推送配置
// Backplane: none (单实例直接推本地 hub), redis, rabbitmq
type RealtimeConfig struct {
	Backplane       string        `yaml:"backplane" validate:"oneof=none redis rabbitmq"`
	Channel         string        `yaml:"channel"`
	Exchange        string        `yaml:"exchange"`
	PushTimeout     time.Duration `yaml:"push_timeout" split_words:"true"`
	PushConcurrency int           `yaml:"push_concurrency" split_words:"true"`
	BufferSize      int           `yaml:"buffer_size" split_words:"true"`
	Heartbeat       time.Duration `yaml:"heartbeat"`
}
