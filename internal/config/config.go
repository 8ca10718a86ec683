// Package config loads this worker's runtime configuration: the AWS
// regions its three external collaborators sit in (object store, record
// store, secret store), the shell-executor and code-interpreter tuning
// knobs, and the ambient logging setup. The pipeline: a YAML file with
// os.ExpandEnv substitution, strict field decoding via gopkg.in/yaml.v3,
// a defaults pass, an env-override pass, then validation.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for one worker process.
type Config struct {
	Version        int                  `yaml:"version"`
	AWS            AWSConfig            `yaml:"aws"`
	ShellExecutor  ShellExecutorConfig  `yaml:"shell_executor"`
	CodeInterpreter CodeInterpreterConfig `yaml:"code_interpreter"`
	Images         ImagesConfig         `yaml:"images"`
	ComputerUse    ComputerUseConfig    `yaml:"computer_use"`
	Logging        LoggingConfig        `yaml:"logging"`
	IsLocal        bool                 `yaml:"is_local"`
}

// AWSConfig names the region each external collaborator's AWS client
// dials; object store, record store, and secret store are configured
// separately.
type AWSConfig struct {
	ObjectStoreRegion string `yaml:"object_store_region"`
	RecordStoreRegion string `yaml:"record_store_region"`
	SecretStoreRegion string `yaml:"secret_store_region"`
}

// ShellExecutorConfig tunes the shell tool loop's sandbox.
type ShellExecutorConfig struct {
	FunctionName           string   `yaml:"function_name"`
	MaxIterations          int      `yaml:"max_iterations"`
	MaxDurationSeconds     int      `yaml:"max_duration_seconds"`
	DefaultTimeoutMS       int      `yaml:"default_timeout_ms"`
	DefaultMaxOutputLength int      `yaml:"default_max_output_length"`
	S3UploadAllowedBuckets []string `yaml:"s3_upload_allowed_buckets"`
	S3UploadKeyPrefix      string   `yaml:"s3_upload_key_prefix"`
	S3UploadPutExpiresIn   time.Duration `yaml:"s3_upload_put_expires_in"`
}

// CodeInterpreterConfig holds the fixed memory limit the tool registry
// forces onto every code_interpreter container.
type CodeInterpreterConfig struct {
	MemoryLimitGB int `yaml:"memory_limit_gb"`
}

// ImagesConfig tunes the image pipeline's size/cache limits.
type ImagesConfig struct {
	MaxBytes    int64         `yaml:"max_bytes"`
	WarnBytes   int64         `yaml:"warn_bytes"`
	CacheSize   int           `yaml:"cache_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// ComputerUseConfig tunes the computer-use loop's budgets.
type ComputerUseConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	MaxDuration   time.Duration `yaml:"max_duration"`
}

// LoggingConfig is the structured-logging setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "text"
}

// Load reads a YAML config file (if path is non-empty and exists),
// expands ${VAR} references against the process environment the way
// layers env-var overrides on top, fills defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			expanded := os.ExpandEnv(string(data))
			decoder := yaml.NewDecoder(strings.NewReader(expanded))
			decoder.KnownFields(true)
			if err := decoder.Decode(cfg); err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ShellExecutor.MaxIterations == 0 {
		cfg.ShellExecutor.MaxIterations = 25
	}
	if cfg.ShellExecutor.MaxDurationSeconds == 0 {
		cfg.ShellExecutor.MaxDurationSeconds = 14 * 60
	}
	if cfg.ShellExecutor.DefaultTimeoutMS == 0 {
		cfg.ShellExecutor.DefaultTimeoutMS = 30_000
	}
	if cfg.ShellExecutor.DefaultMaxOutputLength == 0 {
		cfg.ShellExecutor.DefaultMaxOutputLength = 4096
	}
	if cfg.ShellExecutor.S3UploadPutExpiresIn == 0 {
		cfg.ShellExecutor.S3UploadPutExpiresIn = 15 * time.Minute
	}
	if cfg.CodeInterpreter.MemoryLimitGB == 0 {
		cfg.CodeInterpreter.MemoryLimitGB = 64
	}
	if cfg.Images.MaxBytes == 0 {
		cfg.Images.MaxBytes = 10 << 20
	}
	if cfg.Images.WarnBytes == 0 {
		cfg.Images.WarnBytes = 8 << 20
	}
	if cfg.Images.CacheSize == 0 {
		cfg.Images.CacheSize = 256
	}
	if cfg.Images.CacheTTL == 0 {
		cfg.Images.CacheTTL = 1 * time.Hour
	}
	if cfg.ComputerUse.MaxIterations == 0 {
		cfg.ComputerUse.MaxIterations = 100
	}
	if cfg.ComputerUse.MaxDuration == 0 {
		cfg.ComputerUse.MaxDuration = 15 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.AWS.ObjectStoreRegion == "" {
		cfg.AWS.ObjectStoreRegion = "us-east-1"
	}
	if cfg.AWS.RecordStoreRegion == "" {
		cfg.AWS.RecordStoreRegion = cfg.AWS.ObjectStoreRegion
	}
	if cfg.AWS.SecretStoreRegion == "" {
		cfg.AWS.SecretStoreRegion = cfg.AWS.ObjectStoreRegion
	}
}

// applyEnvOverrides lets the named environment variables win over
// whatever the YAML file set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OBJECT_STORE_AWS_REGION"); v != "" {
		cfg.AWS.ObjectStoreRegion = v
	}
	if v := os.Getenv("RECORD_STORE_AWS_REGION"); v != "" {
		cfg.AWS.RecordStoreRegion = v
	}
	if v := os.Getenv("SECRET_STORE_AWS_REGION"); v != "" {
		cfg.AWS.SecretStoreRegion = v
	}

	if v := os.Getenv("SHELL_EXECUTOR_FUNCTION_NAME"); v != "" {
		cfg.ShellExecutor.FunctionName = v
	}
	if v, ok := getenvInt("SHELL_LOOP_MAX_ITERATIONS"); ok {
		cfg.ShellExecutor.MaxIterations = v
	}
	if v, ok := getenvInt("SHELL_LOOP_MAX_DURATION_SECONDS"); ok {
		cfg.ShellExecutor.MaxDurationSeconds = v
	}
	if v, ok := getenvInt("SHELL_EXECUTOR_DEFAULT_TIMEOUT_MS"); ok {
		cfg.ShellExecutor.DefaultTimeoutMS = v
	}
	if v, ok := getenvInt("SHELL_EXECUTOR_DEFAULT_MAX_OUTPUT_LENGTH"); ok {
		cfg.ShellExecutor.DefaultMaxOutputLength = v
	}
	if v := os.Getenv("SHELL_S3_UPLOAD_ALLOWED_BUCKETS"); v != "" {
		var buckets []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				buckets = append(buckets, b)
			}
		}
		cfg.ShellExecutor.S3UploadAllowedBuckets = buckets
	}
	if v := os.Getenv("SHELL_S3_UPLOAD_KEY_PREFIX"); v != "" {
		cfg.ShellExecutor.S3UploadKeyPrefix = v
	}
	if v, ok := getenvInt("SHELL_S3_UPLOAD_PUT_EXPIRES_IN"); ok {
		cfg.ShellExecutor.S3UploadPutExpiresIn = time.Duration(v) * time.Second
	}

	if v, ok := getenvInt("CODE_INTERPRETER_MEMORY_LIMIT"); ok {
		cfg.CodeInterpreter.MemoryLimitGB = v
	}

	if v := os.Getenv("IS_LOCAL"); v != "" {
		cfg.IsLocal = isTruthy(v)
	}
}

func getenvInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// ConfigValidationError reports a field-level configuration problem.
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

func validateConfig(cfg *Config) error {
	if cfg.ShellExecutor.MaxIterations <= 0 {
		return &ConfigValidationError{Field: "shell_executor.max_iterations", Message: "must be positive"}
	}
	if cfg.ShellExecutor.MaxDurationSeconds <= 0 {
		return &ConfigValidationError{Field: "shell_executor.max_duration_seconds", Message: "must be positive"}
	}
	if cfg.CodeInterpreter.MemoryLimitGB <= 0 {
		return &ConfigValidationError{Field: "code_interpreter.memory_limit_gb", Message: "must be positive"}
	}
	if cfg.ComputerUse.MaxIterations <= 0 {
		return &ConfigValidationError{Field: "computer_use.max_iterations", Message: "must be positive"}
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return &ConfigValidationError{Field: "logging.format", Message: "must be json or text"}
	}
	return nil
}
