package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/flowgraph/pregelflow/pkg/validation"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "PREGELFLOW_"

// Load builds the configuration in order: defaults, the YAML file at path
// (skipped when path is empty), then environment variables. A .env file in
// the working directory is loaded into the environment first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := validation.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. The
// environment is not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	if err := validation.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	if err := c.decode(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ApplyEnv overlays PREGELFLOW_* variables read through lookup. All
// malformed values are reported together.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}
	e.strVar("LOG_LEVEL", &c.Log.Level)
	e.strVar("LOG_ENCODING", &c.Log.Encoding)

	e.intVar("PARALLELISM", &c.Executor.Parallelism)
	e.floatVar("PARALLELISM_FACTOR", &c.Executor.ParallelismFactor)
	e.intVar("MAX_ITERATIONS", &c.Executor.MaxIterations)
	e.boolVar("SKIP_NOOP_CHECKPOINTS", &c.Executor.SkipNoopCheckpoints)

	e.strVar("STORE_DRIVER", &c.Store.Driver)
	e.strVar("STORE_DSN", &c.Store.DSN)
	e.strVar("STORE_DIR", &c.Store.Dir)
	e.strVar("STORE_TABLE", &c.Store.Table)
	e.boolVar("STORE_SYNC_WRITES", &c.Store.SyncWrites)
	e.int64Var("STORE_MAX_MEMORY_MB", &c.Store.MaxMemoryMB)
	e.strVar("STORE_CODEC", &c.Store.Codec)
	e.strVar("STORE_COMPRESSION", &c.Store.Compression)
	e.strVar("STORE_ENCRYPT_KEY", &c.Store.EncryptKey)

	e.strVar("SERVER_ADDR", &c.Server.Addr)
	e.durationVar("SERVER_READ_TIMEOUT", &c.Server.ReadTimeout)
	e.durationVar("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeout)
	e.durationVar("SERVER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	if v, ok := e.get("GRAPHS"); ok {
		c.Graphs = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.Graphs = append(c.Graphs, p)
			}
		}
	}
	return errors.Join(e.errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(name string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
}

func (e *envReader) strVar(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) intVar(name string, dst *int) {
	if v, ok := e.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64Var(name string, dst *int64) {
	if v, ok := e.get(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) floatVar(name string, dst *float64) {
	if v, ok := e.get(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) boolVar(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) durationVar(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = d
	}
}
