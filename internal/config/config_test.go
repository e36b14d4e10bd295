// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/funcbox/funcbox/internal/issue"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.cue")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	t.Parallel()

	cfg, path, err := loadWithOptions(t.Context(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("loadWithOptions() error: %v", err)
	}
	if path != "" {
		t.Errorf("resolved path = %q, want empty", path)
	}
	want := DefaultConfig()
	if len(cfg.EnvAllowlist) == 0 {
		cfg.EnvAllowlist = want.EnvAllowlist
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("config = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
default_timeout_ms: 5000
before_failure_policy: "continue"
env_allowlist: ["REGION", "AWS_PROFILE"]
ssh: {
	port: 2022
	token: "s3cret"
}
redis: queue: "jobs"
`)

	cfg, resolved, err := loadWithOptions(t.Context(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("loadWithOptions() error: %v", err)
	}
	if resolved != path {
		t.Errorf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.DefaultTimeoutMs != 5000 {
		t.Errorf("DefaultTimeoutMs = %d, want 5000", cfg.DefaultTimeoutMs)
	}
	if cfg.BeforeFailurePolicy != PolicyContinue {
		t.Errorf("BeforeFailurePolicy = %q, want continue", cfg.BeforeFailurePolicy)
	}
	if strings.Join(cfg.EnvAllowlist, ",") != "REGION,AWS_PROFILE" {
		t.Errorf("EnvAllowlist = %v", cfg.EnvAllowlist)
	}
	if cfg.SSH.Port != 2022 || cfg.SSH.Token != "s3cret" {
		t.Errorf("SSH = %+v", cfg.SSH)
	}
	if cfg.SSH.Host != "127.0.0.1" {
		t.Errorf("SSH.Host = %q, want default kept", cfg.SSH.Host)
	}
	if cfg.Redis.Queue != "jobs" || cfg.Redis.ResponsePrefix != "funcbox" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.DefaultTimeout() != 5*time.Second {
		t.Errorf("DefaultTimeout() = %v, want 5s", cfg.DefaultTimeout())
	}
}

func TestLoad_ConfigDirLookup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.cue"), []byte("codec: \"cbor\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadWithOptions(t.Context(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("loadWithOptions() error: %v", err)
	}
	if resolved != filepath.Join(dir, "config.cue") {
		t.Errorf("resolved path = %q", resolved)
	}
	if cfg.Codec != CodecCBOR {
		t.Errorf("Codec = %q, want cbor", cfg.Codec)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantMsg string
		wantID  issue.Id
	}{
		{"syntax", "default_timeout_ms: [", "", issue.ConfigLoadFailedId},
		{"unknown field", "retries: 3\n", "retries", issue.ConfigLoadFailedId},
		{"bad enum", "codec: \"xml\"\n", "codec", issue.ConfigLoadFailedId},
		{"negative timeout", "default_timeout_ms: -1\n", "default_timeout_ms", issue.ConfigLoadFailedId},
		{"bad env name", "env_allowlist: [\"1BAD\"]\n", "env_allowlist", issue.ConfigLoadFailedId},
		{"max below default", "default_timeout_ms: 10000\nmax_timeout_ms: 5000\n", "max_timeout_ms", issue.ConfigInvalidId},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfig(t, tt.content)
			_, _, err := loadWithOptions(t.Context(), LoadOptions{ConfigFilePath: path})
			if err == nil {
				t.Fatal("loadWithOptions() should fail")
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) {
				t.Fatalf("error should be *issue.ActionableError, got %T", err)
			}
			if ae.Issue != tt.wantID {
				t.Errorf("Issue = %d, want %d", ae.Issue, tt.wantID)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should mention %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope.cue")
	_, _, err := loadWithOptions(t.Context(), LoadOptions{ConfigFilePath: missing})
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("error should be *issue.ActionableError, got %T (%v)", err, err)
	}
	if ae.Resource != missing {
		t.Errorf("Resource = %q, want %q", ae.Resource, missing)
	}
	if !ae.HasSuggestions() {
		t.Error("missing file error should carry suggestions")
	}
}

func TestLoad_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := contextWithCancel(t)
	cancel()
	if _, _, err := loadWithOptions(ctx, LoadOptions{}); err == nil {
		t.Fatal("loadWithOptions() should fail on a canceled context")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FUNCBOX_SSH_TOKEN", "from-env")
	t.Setenv("FUNCBOX_CONCURRENCY_LIMIT", "3")
	t.Setenv("FUNCBOX_ENV_ALLOWLIST", "HOME,REGION")
	t.Setenv("FUNCBOX_LOG_LEVEL", "debug")

	path := writeConfig(t, "ssh: token: \"from-file\"\nconcurrency_limit: 8\n")
	cfg, _, err := loadWithOptions(t.Context(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("loadWithOptions() error: %v", err)
	}
	if cfg.SSH.Token != "from-env" {
		t.Errorf("SSH.Token = %q, want env to win", cfg.SSH.Token)
	}
	if cfg.ConcurrencyLimit != 3 {
		t.Errorf("ConcurrencyLimit = %d, want 3", cfg.ConcurrencyLimit)
	}
	if strings.Join(cfg.EnvAllowlist, ",") != "HOME,REGION" {
		t.Errorf("EnvAllowlist = %v", cfg.EnvAllowlist)
	}
	if cfg.Log.Level != LogLevelDebug {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_InvalidEnvironmentValue(t *testing.T) {
	t.Setenv("FUNCBOX_CODEC", "xml")

	_, _, err := loadWithOptions(t.Context(), LoadOptions{ConfigDirPath: t.TempDir()})
	if !errors.Is(err, ErrInvalidCodec) {
		t.Fatalf("error = %v, want ErrInvalidCodec", err)
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestGenerateCUE_RoundTrips(t *testing.T) {
	t.Parallel()

	want := DefaultConfig()
	want.EnvAllowlist = []string{"REGION"}
	want.SSH.Token = "tok"
	want.Redis.Password = "pw"
	want.BeforeFailurePolicy = PolicyContinue

	path := writeConfig(t, GenerateCUE(want))
	got, _, err := loadWithOptions(t.Context(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("generated CUE failed to load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestExport(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()
		data, err := Export(cfg, FormatYAML)
		if err != nil {
			t.Fatalf("Export() error: %v", err)
		}
		var back Config
		if err := yaml.Unmarshal(data, &back); err != nil {
			t.Fatalf("yaml.Unmarshal() error: %v", err)
		}
		if back.SSH.Port != cfg.SSH.Port || back.Redis.Queue != cfg.Redis.Queue {
			t.Errorf("yaml export lost values: %s", data)
		}
	})

	t.Run("toml", func(t *testing.T) {
		t.Parallel()
		data, err := Export(cfg, FormatTOML)
		if err != nil {
			t.Fatalf("Export() error: %v", err)
		}
		var back Config
		if err := toml.Unmarshal(data, &back); err != nil {
			t.Fatalf("toml.Unmarshal() error: %v", err)
		}
		if back.MaxTimeoutMs != cfg.MaxTimeoutMs || back.HTTP.Address != cfg.HTTP.Address {
			t.Errorf("toml export lost values: %s", data)
		}
	})

	t.Run("cue and json", func(t *testing.T) {
		t.Parallel()
		for _, f := range []Format{FormatCUE, FormatJSON} {
			data, err := Export(cfg, f)
			if err != nil {
				t.Fatalf("Export(%s) error: %v", f, err)
			}
			if !strings.Contains(string(data), "default_timeout_ms") {
				t.Errorf("Export(%s) = %s", f, data)
			}
		}
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		if _, err := Export(cfg, "ini"); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("Export(ini) error = %v, want ErrInvalidFormat", err)
		}
	})
}

func TestCreateDefaultConfig(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested")
	path, created, err := CreateDefaultConfig(dir)
	if err != nil {
		t.Fatalf("CreateDefaultConfig() error: %v", err)
	}
	if !created || path != filepath.Join(dir, "config.cue") {
		t.Errorf("CreateDefaultConfig() = %q, %v", path, created)
	}

	if err := os.WriteFile(path, []byte("codec: \"cbor\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, created, err := CreateDefaultConfig(dir); err != nil || created {
		t.Errorf("second CreateDefaultConfig() = created %v, err %v; want existing file kept", created, err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "codec: \"cbor\"\n" {
		t.Errorf("existing config was overwritten: %q", data)
	}
}
