// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/funcbox/funcbox/internal/cueutil"
	"github.com/funcbox/funcbox/internal/issue"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// AppName is the application name.
	AppName = "funcbox"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. FUNCBOX_SSH_TOKEN.
	EnvPrefix = "FUNCBOX"

	// FormatCUE renders the configuration as CUE.
	FormatCUE Format = "cue"
	// FormatYAML renders the configuration as YAML.
	FormatYAML Format = "yaml"
	// FormatTOML renders the configuration as TOML.
	FormatTOML Format = "toml"
	// FormatJSON renders the configuration as indented JSON.
	FormatJSON Format = "json"
)

// ErrInvalidFormat is returned when a Format value is not recognized.
var ErrInvalidFormat = errors.New("invalid config format")

//go:embed config_schema.cue
var configSchema string

// Format selects the rendering used by Export.
type Format string

// ConfigDir returns the funcbox configuration directory under the user
// configuration root ($XDG_CONFIG_HOME, ~/Library/Application Support or
// %AppData%).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config directory: %w", err)
	}
	return filepath.Join(root, AppName), nil
}

// Validate returns nil if the Format is cue, yaml, toml or json.
func (f Format) Validate() error {
	switch f {
	case FormatCUE, FormatYAML, FormatTOML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("%w %q (valid: cue, yaml, toml, json)", ErrInvalidFormat, string(f))
	}
}

// loadWithOptions performs option-driven config loading and returns the
// resolved file path, which is empty when only defaults and environment apply.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath := ""
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'funcbox config show' to see the effective configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir := opts.ConfigDirPath
		if cfgDir == "" {
			var err error
			if cfgDir, err = ConfigDir(); err != nil {
				return nil, "", err
			}
		}
		for _, candidate := range []string{
			filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt),
			ConfigFileName + "." + ConfigFileExt,
		} {
			if fileExists(candidate) {
				resolvedPath = candidate
				break
			}
		}
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("parse configuration").
			WithSuggestion("Check FUNCBOX_* environment variables for values of the wrong type").
			WithIssue(issue.ConfigInvalidId).
			Wrap(err).
			BuildError()
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Ensure max_timeout_ms is at least default_timeout_ms").
			WithIssue(issue.ConfigInvalidId).
			Wrap(err).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// setDefaults registers every key so that environment overrides reach
// Unmarshal even when no file sets them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("default_timeout_ms", d.DefaultTimeoutMs)
	v.SetDefault("max_timeout_ms", d.MaxTimeoutMs)
	v.SetDefault("concurrency_limit", d.ConcurrencyLimit)
	v.SetDefault("before_failure_policy", string(d.BeforeFailurePolicy))
	v.SetDefault("env_allowlist", d.EnvAllowlist)
	v.SetDefault("max_call_stack_size", d.MaxCallStackSize)
	v.SetDefault("codec", string(d.Codec))
	v.SetDefault("exec.kill_grace_period_ms", d.Exec.KillGracePeriodMs)
	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("ssh.host", d.SSH.Host)
	v.SetDefault("ssh.port", d.SSH.Port)
	v.SetDefault("ssh.token", d.SSH.Token)
	v.SetDefault("ssh.host_key_path", d.SSH.HostKeyPath)
	v.SetDefault("http.address", d.HTTP.Address)
	v.SetDefault("redis.address", d.Redis.Address)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.queue", d.Redis.Queue)
	v.SetDefault("redis.response_prefix", d.Redis.ResponsePrefix)
	v.SetDefault("redis.response_ttl_seconds", d.Redis.ResponseTTLSeconds)
}

// loadCUEIntoViper validates a CUE file against the #Config schema and
// merges its contents into Viper. Fields are optional, so values need not be
// concrete.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	unified, err := cueutil.Unify(configSchema, "#Config", data, path)
	if err != nil {
		return err
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}

	// MergeConfigMap keeps defaults and still lets env win.
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes a config.cue with the defaults into dir, or into
// ConfigDir when dir is empty. An existing file is left alone and reported
// with created false.
func CreateDefaultConfig(dir string) (path string, created bool, err error) {
	if dir == "" {
		if dir, err = ConfigDir(); err != nil {
			return "", false, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}

	path = filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}

	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write config file: %w", err)
	}
	return path, true, nil
}

// Export renders cfg in the requested format.
func Export(cfg *Config, format Format) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	switch format {
	case FormatYAML:
		return yaml.Marshal(cfg)
	case FormatTOML:
		return toml.Marshal(cfg)
	case FormatJSON:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	default:
		return []byte(GenerateCUE(cfg)), nil
	}
}

// GenerateCUE generates a CUE representation of the configuration.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// funcbox configuration file\n")
	sb.WriteString("// Environment variables named FUNCBOX_<KEY> override these values.\n\n")

	fmt.Fprintf(&sb, "default_timeout_ms: %d\n", cfg.DefaultTimeoutMs)
	fmt.Fprintf(&sb, "max_timeout_ms: %d\n", cfg.MaxTimeoutMs)
	fmt.Fprintf(&sb, "concurrency_limit: %d\n", cfg.ConcurrencyLimit)
	fmt.Fprintf(&sb, "before_failure_policy: %q\n", cfg.BeforeFailurePolicy)
	fmt.Fprintf(&sb, "max_call_stack_size: %d\n", cfg.MaxCallStackSize)
	fmt.Fprintf(&sb, "codec: %q\n", cfg.Codec)

	sb.WriteString("env_allowlist: [")
	for i, name := range cfg.EnvAllowlist {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q", name)
	}
	sb.WriteString("]\n")

	sb.WriteString("\nexec: {\n")
	fmt.Fprintf(&sb, "\tkill_grace_period_ms: %d\n", cfg.Exec.KillGracePeriodMs)
	sb.WriteString("}\n")

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel: %q\n", cfg.Log.Level)
	sb.WriteString("}\n")

	sb.WriteString("\nssh: {\n")
	fmt.Fprintf(&sb, "\thost: %q\n", cfg.SSH.Host)
	fmt.Fprintf(&sb, "\tport: %d\n", cfg.SSH.Port)
	if cfg.SSH.Token != "" {
		fmt.Fprintf(&sb, "\ttoken: %q\n", cfg.SSH.Token)
	}
	if cfg.SSH.HostKeyPath != "" {
		fmt.Fprintf(&sb, "\thost_key_path: %q\n", cfg.SSH.HostKeyPath)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nhttp: {\n")
	fmt.Fprintf(&sb, "\taddress: %q\n", cfg.HTTP.Address)
	sb.WriteString("}\n")

	sb.WriteString("\nredis: {\n")
	fmt.Fprintf(&sb, "\taddress: %q\n", cfg.Redis.Address)
	if cfg.Redis.Password != "" {
		fmt.Fprintf(&sb, "\tpassword: %q\n", cfg.Redis.Password)
	}
	fmt.Fprintf(&sb, "\tdb: %d\n", cfg.Redis.DB)
	fmt.Fprintf(&sb, "\tqueue: %q\n", cfg.Redis.Queue)
	fmt.Fprintf(&sb, "\tresponse_prefix: %q\n", cfg.Redis.ResponsePrefix)
	fmt.Fprintf(&sb, "\tresponse_ttl_seconds: %d\n", cfg.Redis.ResponseTTLSeconds)
	sb.WriteString("}\n")

	return sb.String()
}
