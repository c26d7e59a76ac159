// Package config loads the engine configuration and declarative pipeline
// definitions.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envKeyReplacer maps "server.addr" to LONGRUN_SERVER_ADDR.
var envKeyReplacer = strings.NewReplacer(".", "_")

// Config is the engine process configuration. Values come from the config
// file with environment overrides under the LONGRUN_ prefix, e.g.
// LONGRUN_SERVER_ADDR.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Log       LogConfig       `mapstructure:"log"`
	Pipelines PipelinesConfig `mapstructure:"pipelines"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	// Dir roots the durable run store. Empty selects the in-memory store.
	Dir string `mapstructure:"dir"`
}

type ExecutorConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

type WorkerConfig struct {
	// Endpoint receives rendered worker requests over HTTP.
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type PipelinesConfig struct {
	// Dir holds one YAML pipeline definition per file.
	Dir string `mapstructure:"dir"`
}

// Load reads the config file at path. An empty path loads defaults with
// environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LONGRUN")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("store.dir", "")
	v.SetDefault("executor.max_attempts", 3)
	v.SetDefault("executor.initial_backoff", 500*time.Millisecond)
	v.SetDefault("executor.max_backoff", 30*time.Second)
	v.SetDefault("executor.attempt_timeout", 0)
	v.SetDefault("worker.endpoint", "")
	v.SetDefault("worker.timeout", 10*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("pipelines.dir", "")
}
