package config

import "time"

// Pipeline definition pipeline_service YAML structure
type Pipeline struct {
	Port     string `mapstructure:"port"`
	IP       string `mapstructure:"ip"`
	GRPCPort string `mapstructure:"grpc_port"`

	// local 使用行程內 memory job store，redis 使用 asynq
	JobStore string `mapstructure:"job_store"`

	PostgreSQL DatabaseConfig `mapstructure:"pg"`
	MinIO      MinIOConfig    `mapstructure:"minio"`
	Redis      RedisConfig    `mapstructure:"redis"`
	RabbitMQ   RabbitMQConfig `mapstructure:"rabbitmq"`
	KafKa      KafkaConfig    `mapstructure:"kafka"`

	Queues  QueuesConfig  `mapstructure:"queues"`
	Health  HealthConfig  `mapstructure:"health"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Events  EventsConfig  `mapstructure:"events"`
	Workers WorkersConfig `mapstructure:"workers"`
	JWT     JWTConfig     `mapstructure:"jwt"`
}

// QueuesConfig one entry per pipeline stage queue
type QueuesConfig struct {
	Video    QueueConfig `mapstructure:"video"`
	AI       QueueConfig `mapstructure:"ai"`
	Strategy QueueConfig `mapstructure:"strategy"`
}

// QueueConfig concurrency + retry policy for one queue
type QueueConfig struct {
	Name        string        `mapstructure:"name"`
	Concurrency int           `mapstructure:"concurrency"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
	// asynq 保留 completed task 的時間
	Retention time.Duration `mapstructure:"retention"`
}

// HealthConfig health reporter setting
type HealthConfig struct {
	FailedThreshold int           `mapstructure:"failed_threshold"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Interval        time.Duration `mapstructure:"interval"`
}

// StreamConfig signed url setting
type StreamConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// EventsConfig pipeline event publisher, driver = redis | rabbitmq | kafka | none
type EventsConfig struct {
	Driver  string `mapstructure:"driver"`
	Channel string `mapstructure:"channel"`
}

// WorkersConfig opaque stage worker endpoints
type WorkersConfig struct {
	TempDir          string        `mapstructure:"temp_dir"`
	AIEndpoint       string        `mapstructure:"ai_endpoint"`
	StrategyEndpoint string        `mapstructure:"strategy_endpoint"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// JWTConfig jwt secret
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// MinIOConfig definition minio setting
type MinIOConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	BucketName    string `mapstructure:"bucket_name"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	RedisDB  int    `mapstructure:"redis_db"`
}

// RabbitMQConfig definition rabbitmq setting
type RabbitMQConfig struct {
	IP            string `mapstructure:"ip"`
	Port          string `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// KafkaConfig definition kafka setting
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	RetryInterval int      `mapstructure:"retry_interval"`
	RetryCount    int      `mapstructure:"retry_count"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// ApplyDefaults 補上 YAML 未設定的值
func (p *Pipeline) ApplyDefaults() {
	if p.JobStore == "" {
		p.JobStore = "redis"
	}
	p.Queues.Video.applyDefaults("video-processing", 2)
	p.Queues.AI.applyDefaults("ai-analysis", 2)
	p.Queues.Strategy.applyDefaults("strategy-generation", 2)

	if p.Health.FailedThreshold <= 0 {
		p.Health.FailedThreshold = 10
	}
	if p.Health.Timeout <= 0 {
		p.Health.Timeout = 5 * time.Second
	}
	if p.Health.Interval <= 0 {
		p.Health.Interval = 30 * time.Second
	}
	if p.Stream.TTLSeconds <= 0 {
		p.Stream.TTLSeconds = 3600
	}
	if p.Events.Driver == "" {
		p.Events.Driver = "none"
	}
	if p.Events.Channel == "" {
		p.Events.Channel = "pipeline.events"
	}
	if p.Workers.TempDir == "" {
		p.Workers.TempDir = "./tmp"
	}
	if p.Workers.Timeout <= 0 {
		p.Workers.Timeout = 10 * time.Minute
	}
}

func (q *QueueConfig) applyDefaults(name string, concurrency int) {
	if q.Name == "" {
		q.Name = name
	}
	if q.Concurrency <= 0 {
		q.Concurrency = concurrency
	}
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = 3
	}
	if q.BackoffBase <= 0 {
		q.BackoffBase = 5 * time.Second
	}
	if q.BackoffMax <= 0 {
		q.BackoffMax = 5 * time.Minute
	}
	if q.Retention <= 0 {
		q.Retention = 24 * time.Hour
	}
}
