// Package config loads the governor service configuration from environment
// variables and an optional YAML file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Database holds the PostgreSQL connection settings.
type Database struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MinConns int32  `mapstructure:"min_conns"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// DSN renders the database settings as a pgx connection string.
func (d Database) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// Telemetry holds the OpenTelemetry exporter settings.
type Telemetry struct {
	ServiceName      string  `mapstructure:"service_name"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	SamplingRatio    float64 `mapstructure:"sampling_ratio"`
	Insecure         bool    `mapstructure:"insecure"`
}

// Config is the top-level governor configuration.
type Config struct {
	Database  Database  `mapstructure:"database"`
	Telemetry Telemetry `mapstructure:"telemetry"`
}

// Load reads configuration with the precedence: defaults, then the YAML
// file at path (if non-empty), then GOVERNOR_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "governance")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conns", 20)

	v.SetDefault("telemetry.service_name", "governor")
	v.SetDefault("telemetry.exporter_endpoint", "localhost:4317")
	v.SetDefault("telemetry.sampling_ratio", 0.05)
	v.SetDefault("telemetry.insecure", true)

	v.SetEnvPrefix("GOVERNOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
