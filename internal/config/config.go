// README: Config loader; viper reads COURIER_* env vars over an optional YAML file and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DBConfig struct {
	DSN           string `mapstructure:"dsn"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type RabbitMQConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	Queue      string `mapstructure:"queue"`
	BindingKey string `mapstructure:"binding_key"`
	Prefetch   int    `mapstructure:"prefetch"`
}

type AuthConfig struct {
	Mode                    string `mapstructure:"mode"`
	JWTSecret               string `mapstructure:"jwt_secret"`
	FirebaseProjectID       string `mapstructure:"firebase_project_id"`
	FirebaseCredentialsFile string `mapstructure:"firebase_credentials_file"`
}

type MatchingConfig struct {
	DefaultRadiusKm float64       `mapstructure:"default_radius_km"`
	MaxStaleness    time.Duration `mapstructure:"max_staleness"`
}

type AssignmentConfig struct {
	UnassignPolicy string `mapstructure:"unassign_policy"`
}

type BroadcastConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type LocationConfig struct {
	HistoryDefaultLimit int `mapstructure:"history_default_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Matching   MatchingConfig   `mapstructure:"matching"`
	Assignment AssignmentConfig `mapstructure:"assignment"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
	Location   LocationConfig   `mapstructure:"location"`
	Log        LogConfig        `mapstructure:"log"`
}

const envPrefix = "COURIER"

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.migrations_dir", "migrations")
	v.SetDefault("redis.addr", "")
	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "delivery_topic")
	v.SetDefault("rabbitmq.queue", "courier.delivery.created")
	v.SetDefault("rabbitmq.binding_key", "delivery.created")
	v.SetDefault("rabbitmq.prefetch", 20)
	v.SetDefault("auth.mode", "jwt")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.firebase_project_id", "")
	v.SetDefault("auth.firebase_credentials_file", "")
	v.SetDefault("matching.default_radius_km", 5.0)
	v.SetDefault("matching.max_staleness", time.Duration(0))
	v.SetDefault("assignment.unassign_policy", "revert")
	v.SetDefault("broadcast.buffer_size", 32)
	v.SetDefault("location.history_default_limit", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration. path may be empty; environment variables always win over the file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Auth.Mode {
	case "jwt":
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("auth.jwt_secret is required when auth.mode=jwt"))
		}
	case "firebase":
		if c.Auth.FirebaseProjectID == "" {
			errs = append(errs, errors.New("auth.firebase_project_id is required when auth.mode=firebase"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.mode %q must be jwt or firebase", c.Auth.Mode))
	}
	switch c.Assignment.UnassignPolicy {
	case "revert", "keep":
	default:
		errs = append(errs, fmt.Errorf("assignment.unassign_policy %q must be revert or keep", c.Assignment.UnassignPolicy))
	}
	if c.Matching.DefaultRadiusKm <= 0 {
		errs = append(errs, errors.New("matching.default_radius_km must be positive"))
	}
	if c.Matching.MaxStaleness < 0 {
		errs = append(errs, errors.New("matching.max_staleness must not be negative"))
	}
	if c.Broadcast.BufferSize <= 0 {
		errs = append(errs, errors.New("broadcast.buffer_size must be positive"))
	}
	if c.Location.HistoryDefaultLimit <= 0 {
		errs = append(errs, errors.New("location.history_default_limit must be positive"))
	}
	return errors.Join(errs...)
}
