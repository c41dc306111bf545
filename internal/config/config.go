// Package config loads pregelflow settings from YAML, .env files and
// PREGELFLOW_* environment variables.
package config

import (
	"time"

	"github.com/flowgraph/pregelflow/internal/core/pregel"
	"github.com/flowgraph/pregelflow/internal/infrastructure/logging"
)

// Config is the root configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Executor ExecutorConfig `yaml:"executor"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
	// Graphs lists definition files loaded at startup.
	Graphs []string `yaml:"graphs,omitempty" validate:"dive,required"`
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level    string `yaml:"level" validate:"oneof=debug info warn error"`
	Encoding string `yaml:"encoding" validate:"oneof=console json"`
}

// ExecutorConfig maps to pregel options.
type ExecutorConfig struct {
	Parallelism         int     `yaml:"parallelism" validate:"gte=0"`
	ParallelismFactor   float64 `yaml:"parallelism_factor" validate:"gte=0"`
	MaxIterations       int     `yaml:"max_iterations" validate:"gte=0"`
	SkipNoopCheckpoints bool    `yaml:"skip_noop_checkpoints"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverFile     = "file"
)

// StoreConfig selects and configures the checkpoint store.
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite postgres file"`
	// DSN is the sqlite path or postgres connection string.
	DSN         string `yaml:"dsn,omitempty" validate:"required_if=Driver sqlite,required_if=Driver postgres"`
	Dir         string `yaml:"dir,omitempty" validate:"required_if=Driver file"`
	Table       string `yaml:"table,omitempty"`
	SyncWrites  bool   `yaml:"sync_writes,omitempty"`
	MaxMemoryMB int64  `yaml:"max_memory_mb,omitempty" validate:"gte=0"`
	Codec       string `yaml:"codec,omitempty" validate:"omitempty,oneof=msgpack json"`
	Compression string `yaml:"compression,omitempty" validate:"omitempty,oneof=none gzip zstd"`
	// EncryptKey is a hex encoded AES key.
	EncryptKey string `yaml:"encrypt_key,omitempty" validate:"omitempty,hexadecimal"`
}

// ServerConfig configures flowgraph-server.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Encoding: "console"},
		Store: StoreConfig{
			Driver:      DriverMemory,
			Codec:       "msgpack",
			Compression: "zstd",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Options returns the executor options the section describes.
func (c ExecutorConfig) Options() []pregel.Option {
	var opts []pregel.Option
	if c.Parallelism > 0 {
		opts = append(opts, pregel.WithParallelism(c.Parallelism))
	} else if c.ParallelismFactor > 0 {
		opts = append(opts, pregel.WithParallelismFactor(c.ParallelismFactor))
	}
	if c.MaxIterations > 0 {
		opts = append(opts, pregel.WithMaxIterations(c.MaxIterations))
	}
	if c.SkipNoopCheckpoints {
		opts = append(opts, pregel.WithSkipNoopCheckpoints())
	}
	return opts
}

// Apply configures the process logger.
func (c LogConfig) Apply() {
	logging.Configure(c.Level, c.Encoding)
}
