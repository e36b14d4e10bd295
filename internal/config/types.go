// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/funcbox/funcbox/internal/procexec"
)

const (
	// PolicyAbort fails the request when a before function fails.
	PolicyAbort FailurePolicy = "abort"
	// PolicyContinue logs the failure and runs the remaining functions.
	PolicyContinue FailurePolicy = "continue"

	// CodecJSON frames streams as JSON lines.
	CodecJSON Codec = "json"
	// CodecCBOR frames streams as a CBOR sequence.
	CodecCBOR Codec = "cbor"

	// LogLevelDebug logs everything.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo logs lifecycle and per-execution summaries.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs rejections and recoverable failures.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs failures only.
	LogLevelError LogLevel = "error"
)

var (
	// ErrInvalidFailurePolicy is returned when a FailurePolicy value is not recognized.
	ErrInvalidFailurePolicy = errors.New("invalid before failure policy")
	// ErrInvalidCodec is returned when a Codec value is not recognized.
	ErrInvalidCodec = errors.New("invalid codec")
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// FailurePolicy is the before-function failure policy.
	// Defined locally to avoid coupling config to the sandbox package.
	FailurePolicy string

	// Codec names a stream framing.
	Codec string

	// LogLevel is the minimum level of log records.
	LogLevel string

	// InvalidValueError is returned when an enum field holds an unknown value.
	// It wraps the field's sentinel for errors.Is() compatibility.
	InvalidValueError struct {
		Field string
		Value string
		Err   error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		DefaultTimeoutMs    int64         `json:"default_timeout_ms" mapstructure:"default_timeout_ms" yaml:"default_timeout_ms" toml:"default_timeout_ms"`
		MaxTimeoutMs        int64         `json:"max_timeout_ms" mapstructure:"max_timeout_ms" yaml:"max_timeout_ms" toml:"max_timeout_ms"`
		ConcurrencyLimit    int           `json:"concurrency_limit" mapstructure:"concurrency_limit" yaml:"concurrency_limit" toml:"concurrency_limit"`
		BeforeFailurePolicy FailurePolicy `json:"before_failure_policy" mapstructure:"before_failure_policy" yaml:"before_failure_policy" toml:"before_failure_policy"`
		EnvAllowlist        []string      `json:"env_allowlist" mapstructure:"env_allowlist" yaml:"env_allowlist" toml:"env_allowlist"`
		MaxCallStackSize    int           `json:"max_call_stack_size" mapstructure:"max_call_stack_size" yaml:"max_call_stack_size" toml:"max_call_stack_size"`
		Codec               Codec         `json:"codec" mapstructure:"codec" yaml:"codec" toml:"codec"`
		Exec                ExecConfig    `json:"exec" mapstructure:"exec" yaml:"exec" toml:"exec"`
		Log                 LogConfig     `json:"log" mapstructure:"log" yaml:"log" toml:"log"`
		SSH                 SSHConfig     `json:"ssh" mapstructure:"ssh" yaml:"ssh" toml:"ssh"`
		HTTP                HTTPConfig    `json:"http" mapstructure:"http" yaml:"http" toml:"http"`
		Redis               RedisConfig   `json:"redis" mapstructure:"redis" yaml:"redis" toml:"redis"`
	}

	// ExecConfig configures subprocesses started by functions.
	ExecConfig struct {
		KillGracePeriodMs int64 `json:"kill_grace_period_ms" mapstructure:"kill_grace_period_ms" yaml:"kill_grace_period_ms" toml:"kill_grace_period_ms"`
	}

	// LogConfig configures the diagnostic log on stderr.
	LogConfig struct {
		Level LogLevel `json:"level" mapstructure:"level" yaml:"level" toml:"level"`
	}

	// SSHConfig configures the SSH transport.
	SSHConfig struct {
		Host        string `json:"host" mapstructure:"host" yaml:"host" toml:"host"`
		Port        int    `json:"port" mapstructure:"port" yaml:"port" toml:"port"`
		Token       string `json:"token" mapstructure:"token" yaml:"token" toml:"token"`
		HostKeyPath string `json:"host_key_path" mapstructure:"host_key_path" yaml:"host_key_path" toml:"host_key_path"`
	}

	// HTTPConfig configures the HTTP transport.
	HTTPConfig struct {
		Address string `json:"address" mapstructure:"address" yaml:"address" toml:"address"`
	}

	// RedisConfig configures the queue worker.
	RedisConfig struct {
		Address            string `json:"address" mapstructure:"address" yaml:"address" toml:"address"`
		Password           string `json:"password" mapstructure:"password" yaml:"password" toml:"password"`
		DB                 int    `json:"db" mapstructure:"db" yaml:"db" toml:"db"`
		Queue              string `json:"queue" mapstructure:"queue" yaml:"queue" toml:"queue"`
		ResponsePrefix     string `json:"response_prefix" mapstructure:"response_prefix" yaml:"response_prefix" toml:"response_prefix"`
		ResponseTTLSeconds int64  `json:"response_ttl_seconds" mapstructure:"response_ttl_seconds" yaml:"response_ttl_seconds" toml:"response_ttl_seconds"`
	}
)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultTimeoutMs:    60_000,
		MaxTimeoutMs:        600_000,
		ConcurrencyLimit:    0,
		BeforeFailurePolicy: PolicyAbort,
		EnvAllowlist:        []string{},
		MaxCallStackSize:    1000,
		Codec:               CodecJSON,
		Exec:                ExecConfig{KillGracePeriodMs: 0},
		Log:                 LogConfig{Level: LogLevelInfo},
		SSH:                 SSHConfig{Host: "127.0.0.1", Port: 2222},
		HTTP:                HTTPConfig{Address: "127.0.0.1:8080"},
		Redis: RedisConfig{
			Address:            "127.0.0.1:6379",
			Queue:              "funcbox:requests",
			ResponsePrefix:     "funcbox",
			ResponseTTLSeconds: 3600,
		},
	}
}

// Validate returns nil if the FailurePolicy is abort or continue.
func (p FailurePolicy) Validate() error {
	switch p {
	case PolicyAbort, PolicyContinue:
		return nil
	default:
		return &InvalidValueError{Field: "before_failure_policy", Value: string(p), Err: ErrInvalidFailurePolicy}
	}
}

// Validate returns nil if the Codec is json or cbor.
func (c Codec) Validate() error {
	switch c {
	case CodecJSON, CodecCBOR:
		return nil
	default:
		return &InvalidValueError{Field: "codec", Value: string(c), Err: ErrInvalidCodec}
	}
}

// Validate returns nil if the LogLevel is one of the defined levels.
func (l LogLevel) Validate() error {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return nil
	default:
		return &InvalidValueError{Field: "log.level", Value: string(l), Err: ErrInvalidLogLevel}
	}
}

// Validate checks the rules the schema cannot express across fields, as well
// as every enum. It returns an *InvalidConfigError listing each problem.
func (c *Config) Validate() error {
	var errs []error
	if c.DefaultTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("default_timeout_ms must be positive, got %d", c.DefaultTimeoutMs))
	}
	if c.MaxTimeoutMs < c.DefaultTimeoutMs {
		errs = append(errs, fmt.Errorf("max_timeout_ms (%d) must not be below default_timeout_ms (%d)", c.MaxTimeoutMs, c.DefaultTimeoutMs))
	}
	if c.ConcurrencyLimit < 0 {
		errs = append(errs, fmt.Errorf("concurrency_limit must not be negative, got %d", c.ConcurrencyLimit))
	}
	for _, err := range []error{c.BeforeFailurePolicy.Validate(), c.Codec.Validate(), c.Log.Level.Validate()} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// DefaultTimeout returns DefaultTimeoutMs as a duration.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

// MaxTimeout returns MaxTimeoutMs as a duration.
func (c *Config) MaxTimeout() time.Duration {
	return time.Duration(c.MaxTimeoutMs) * time.Millisecond
}

// KillGracePeriod returns Exec.KillGracePeriodMs as a duration.
func (c *Config) KillGracePeriod() time.Duration {
	return time.Duration(c.Exec.KillGracePeriodMs) * time.Millisecond
}

// ResponseTTL returns Redis.ResponseTTLSeconds as a duration.
func (c *Config) ResponseTTL() time.Duration {
	return time.Duration(c.Redis.ResponseTTLSeconds) * time.Second
}

// Environment returns the allowlisted variables that lookup finds.
func (c *Config) Environment(lookup func(string) (string, bool)) map[string]string {
	return procexec.AllowlistEnv(c.EnvAllowlist, lookup)
}

// Error implements the error interface for InvalidValueError.
func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s: %v %q", e.Field, e.Err, e.Value)
}

// Unwrap returns the field's sentinel error for errors.Is() compatibility.
func (e *InvalidValueError) Unwrap() error { return e.Err }

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidConfig and the field errors.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}
