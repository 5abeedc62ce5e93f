// Package objectstore exports run snapshots to S3-compatible storage.
package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iml130/mf-plugin/internal/env"
)

type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix"`
}

// DefaultConfig matches a local MinIO started with default credentials.
func DefaultConfig() Config {
	return Config{
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Region:    "us-east-1",
		Bucket:    "mfexec",
		Prefix:    "snapshots",
	}
}

// ConfigFromEnv overlays MFEXEC_MINIO_* variables on base and validates
// the result.
func ConfigFromEnv(base Config) (Config, error) {
	cfg, err := ApplyEnv(base)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays MFEXEC_MINIO_* variables on base without validating.
func ApplyEnv(base Config) (Config, error) {
	const p = env.Prefix + "MINIO_"
	useSSL, err := env.Bool(p+"USE_SSL", base.UseSSL)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Endpoint:  env.String(p+"ENDPOINT", base.Endpoint),
		AccessKey: env.String(p+"ACCESS_KEY", base.AccessKey),
		SecretKey: env.String(p+"SECRET_KEY", base.SecretKey),
		Region:    env.String(p+"REGION", base.Region),
		UseSSL:    useSSL,
		Bucket:    env.String(p+"BUCKET", base.Bucket),
		Prefix:    env.String(p+"PREFIX", base.Prefix),
	}, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
