package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const configFileEnvVar = "CONFIG_FILE"

type Config interface {
	EnvConfig
	APIConfig
	StorageConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	API
	Storage
}

// New builds the configuration from the environment, layered over the optional
// YAML file named by CONFIG_FILE.
func New() (Config, error) {
	file, err := LoadFile(GetEnv(configFileEnvVar, ""))
	if err != nil {
		return nil, errors.Wrap(err, "[config.New] LoadFile")
	}
	return NewWithFile(file)
}

// NewWithFile builds the configuration using values as the file layer.
func NewWithFile(values FileValues) (Config, error) {
	src := source{file: values}
	c := mainConfig{
		EnvVars: EnvVars{src},
		API:     API{src},
		Storage: Storage{src},
	}
	if err := Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// FileValues holds the flat key/value pairs of a config file. Keys are the
// lower-cased environment variable names, e.g. api_url or redis_db.
type FileValues map[string]string

// LoadFile reads a flat YAML config file. An empty path yields no values.
func LoadFile(path string) (FileValues, error) {
	if strings.TrimSpace(path) == "" {
		return FileValues{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}
	return ParseFile(raw)
}

// ParseFile decodes flat YAML content into FileValues.
func ParseFile(raw []byte) (FileValues, error) {
	decoded := map[string]any{}
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		return nil, errors.Wrap(err, "decode config yaml")
	}
	values := make(FileValues, len(decoded))
	for k, v := range decoded {
		if v == nil {
			continue
		}
		values[strings.ToLower(strings.TrimSpace(k))] = fmt.Sprint(v)
	}
	return values, nil
}

// Validate checks the values that would otherwise fail late, at first use.
func Validate(c Config) error {
	u, err := url.Parse(c.GetBaseURL())
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Errorf("[config.Validate] invalid %s %q", apiURLEnvVar, c.GetBaseURL())
	}
	if c.GetRequestTimeout() <= 0 {
		return errors.Errorf("[config.Validate] %s must be positive", apiTimeoutEnvVar)
	}
	switch c.GetRefreshMode() {
	case RefreshModeCookie, RefreshModeToken:
	default:
		return errors.Errorf("[config.Validate] unknown %s %q", refreshModeEnvVar, c.GetRefreshMode())
	}
	switch c.GetStorageBackend() {
	case StorageBackendFile, StorageBackendRedis, StorageBackendMemory:
	default:
		return errors.Errorf("[config.Validate] unknown %s %q", storageBackendEnvVar, c.GetStorageBackend())
	}
	return nil
}

// source resolves a setting: environment first, then the config file, then the default.
type source struct {
	file FileValues
}

func (s source) get(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	if value, ok := s.file[strings.ToLower(envVar)]; ok && value != "" {
		return value
	}
	return defaultValue
}

func (s source) duration(envVar string, defaultValue time.Duration) time.Duration {
	raw := s.get(envVar, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return -1
	}
	return d
}
