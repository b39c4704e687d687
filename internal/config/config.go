// Package config loads the dispatcher configuration from a YAML file and
// CORRELATE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CORRELATE_STORE_PATH.
const EnvPrefix = "correlate"

type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Models   ModelsConfig   `mapstructure:"models"`
	Log      LogConfig      `mapstructure:"log"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Lock     LockConfig     `mapstructure:"lock"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
}

type StoreConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type ModelsConfig struct {
	// Dir holds the CUE files declaring events and channels.
	Dir string `mapstructure:"dir" validate:"required"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type DispatchConfig struct {
	MaxCorrelationParameters int  `mapstructure:"max_correlation_parameters" validate:"min=1,max=20"`
	ContinueOnFailure        bool `mapstructure:"continue_on_failure"`
	PolicyCacheSize          int  `mapstructure:"policy_cache_size" validate:"min=1"`
}

// LockConfig enables the Redis start lock shared by several processes.
type LockConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"min=0"`
	TTL      time.Duration `mapstructure:"ttl" validate:"min=0"`
}

type IngestConfig struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

type RabbitMQConfig struct {
	Enabled  bool             `mapstructure:"enabled"`
	URL      string           `mapstructure:"url" validate:"required_if=Enabled true"`
	Prefetch int              `mapstructure:"prefetch" validate:"min=1"`
	Workers  int              `mapstructure:"workers" validate:"min=1"`
	Bindings []ChannelBinding `mapstructure:"bindings" validate:"dive"`
}

type KafkaConfig struct {
	Enabled  bool             `mapstructure:"enabled"`
	Brokers  []string         `mapstructure:"brokers" validate:"required_if=Enabled true,dive,hostname_port"`
	Group    string           `mapstructure:"group" validate:"required_if=Enabled true"`
	Bindings []ChannelBinding `mapstructure:"bindings" validate:"dive"`
}

// ChannelBinding maps a queue or topic to an inbound channel model.
type ChannelBinding struct {
	Channel string `mapstructure:"channel" validate:"required"`
	Source  string `mapstructure:"source" validate:"required"`
}

// Load reads path (optional) and the environment. An empty path loads
// defaults and environment overrides only.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", "correlate.db")
	v.SetDefault("models.dir", "models")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("dispatch.max_correlation_parameters", 10)
	v.SetDefault("dispatch.continue_on_failure", false)
	v.SetDefault("dispatch.policy_cache_size", 1024)
	v.SetDefault("lock.enabled", false)
	v.SetDefault("lock.addr", "")
	v.SetDefault("lock.password", "")
	v.SetDefault("lock.db", 0)
	v.SetDefault("lock.ttl", "30s")
	v.SetDefault("ingest.http.enabled", false)
	v.SetDefault("ingest.http.addr", ":8080")
	v.SetDefault("ingest.rabbitmq.enabled", false)
	v.SetDefault("ingest.rabbitmq.url", "")
	v.SetDefault("ingest.rabbitmq.prefetch", 16)
	v.SetDefault("ingest.rabbitmq.workers", 4)
	v.SetDefault("ingest.kafka.enabled", false)
	v.SetDefault("ingest.kafka.group", "correlate")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the rules spanning several
// sections.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Ingest.RabbitMQ.Enabled && len(c.Ingest.RabbitMQ.Bindings) == 0 {
		return fmt.Errorf("invalid config: ingest.rabbitmq is enabled without bindings")
	}
	if c.Ingest.Kafka.Enabled && len(c.Ingest.Kafka.Bindings) == 0 {
		return fmt.Errorf("invalid config: ingest.kafka is enabled without bindings")
	}
	if err := uniqueChannels(c.Ingest.RabbitMQ.Bindings, "ingest.rabbitmq"); err != nil {
		return err
	}
	return uniqueChannels(c.Ingest.Kafka.Bindings, "ingest.kafka")
}

func uniqueChannels(bindings []ChannelBinding, section string) error {
	seen := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		if seen[b.Source] {
			return fmt.Errorf("invalid config: %s binds source %q twice", section, b.Source)
		}
		seen[b.Source] = true
	}
	return nil
}
