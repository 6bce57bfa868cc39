package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Lookup is the read-only view of resolved configuration handed to adapters
// and the orchestrator.
type Lookup interface {
	// Get resolves a key, reporting whether any layer provided a value.
	Get(key string) (string, bool)
	// GetDefault resolves a key, falling back to def when no layer has it.
	GetDefault(key, def string) string
}

// Resolver resolves dotted configuration keys with the precedence
// environment override > centralized config file > secret store directory.
// Each key is resolved at most once per process; the first resolution wins
// and is cached for the process lifetime.
type Resolver struct {
	envLayer  *koanf.Koanf
	fileLayer *koanf.Koanf
	secretDir string
	cache     sync.Map // key -> string
}

// Options configures a Resolver.
type Options struct {
	// EnvPrefix selects which environment variables participate in the
	// override layer, e.g. "FIP_" maps FIP_OUTPUT_BUCKET to output.bucket.
	EnvPrefix string
	// ConfigFile is an optional YAML file forming the centralized layer.
	ConfigFile string
	// SecretDir is an optional directory of file-per-key secrets.
	SecretDir string
}

// NewResolver loads the environment and file layers and prepares the lazy
// secret layer.
func NewResolver(opts Options) (*Resolver, error) {
	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = "FIP_"
	}

	envLayer := koanf.New(".")
	if err := envLayer.Load(env.Provider(prefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, prefix)), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment layer: %w", err)
	}

	fileLayer := koanf.New(".")
	if opts.ConfigFile != "" {
		if err := fileLayer.Load(file.Provider(opts.ConfigFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", opts.ConfigFile, err)
		}
	}

	return &Resolver{
		envLayer:  envLayer,
		fileLayer: fileLayer,
		secretDir: opts.SecretDir,
	}, nil
}

// Get resolves key through the layers in precedence order. Successful
// resolutions are cached; misses are re-resolved on the next call.
func (r *Resolver) Get(key string) (string, bool) {
	if v, ok := r.cache.Load(key); ok {
		return v.(string), true
	}

	if r.envLayer.Exists(key) {
		return r.remember(key, r.envLayer.String(key)), true
	}
	if r.fileLayer.Exists(key) {
		return r.remember(key, r.fileLayer.String(key)), true
	}
	if r.secretDir != "" {
		data, err := os.ReadFile(filepath.Join(r.secretDir, key))
		if err == nil {
			return r.remember(key, strings.TrimSpace(string(data))), true
		}
	}
	return "", false
}

// GetDefault resolves key or returns def when no layer provides it.
func (r *Resolver) GetDefault(key, def string) string {
	if v, ok := r.Get(key); ok {
		return v
	}
	return def
}

func (r *Resolver) remember(key, value string) string {
	// LoadOrStore keeps the first resolution if two goroutines race.
	actual, _ := r.cache.LoadOrStore(key, value)
	return actual.(string)
}

var _ Lookup = (*Resolver)(nil)

// GetEnv reads an environment variable or returns a default. Used by the
// binaries for bootstrap settings that precede the resolver itself.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
