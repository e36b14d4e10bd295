// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/funcbox/funcbox/internal/core/serverbase"
	"github.com/funcbox/funcbox/internal/host"
	"github.com/funcbox/funcbox/internal/sandbox"
	"github.com/funcbox/funcbox/internal/testutil"

	"github.com/charmbracelet/log"
	gossh "golang.org/x/crypto/ssh"
)

const testToken = "test-token"

func startServer(t *testing.T) *Server {
	t.Helper()

	engine, err := sandbox.New(sandbox.Options{})
	if err != nil {
		t.Fatalf("sandbox.New() error: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Token = testToken
	srv, err := New(cfg, host.New(host.Config{Executor: engine, ConcurrencyLimit: 2}), log.New(io.Discard))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	testutil.StopOnCleanup(t, srv)
	return srv
}

func dial(t *testing.T, srv *Server, password string) (*gossh.Client, error) {
	t.Helper()

	return gossh.Dial("tcp", srv.Addr(), &gossh.ClientConfig{
		User:            "funcbox",
		Auth:            []gossh.AuthMethod{gossh.Password(password)},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(), //nolint:gosec // test server with an ephemeral key
	})
}

func TestServer_SessionRunsProtocolStream(t *testing.T) {
	t.Parallel()

	srv := startServer(t)
	if !srv.IsRunning() || srv.Port() == 0 {
		t.Fatalf("server not running: state=%s port=%d", srv.State(), srv.Port())
	}

	client, err := dial(t, srv, testToken)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}
	defer sess.Close()

	sess.Stdin = strings.NewReader(`{"executionId":"s1","kind":"resolver","mainFunction":{"code":"function main(a) { console.log('hi'); return a.x; }","handlerName":"main"},"args":{"x":5}}` + "\n")
	out, err := sess.Output("json")
	if err != nil {
		t.Fatalf("session error: %v", err)
	}

	var types []string
	var last map[string]any
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		var msg map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			t.Fatalf("bad line %q: %v", scanner.Text(), err)
		}
		types = append(types, msg["type"].(string))
		last = msg
	}
	if strings.Join(types, ",") != "output,result" {
		t.Fatalf("message types = %v, want [output result]", types)
	}
	if last["outcome"] != "success" {
		t.Errorf("result = %v", last)
	}
	payload, _ := last["payload"].(map[string]any)
	if payload["data"] != float64(5) {
		t.Errorf("payload = %v, want data 5", last["payload"])
	}
}

func TestServer_RejectsBadCredentials(t *testing.T) {
	t.Parallel()

	srv := startServer(t)
	if _, err := dial(t, srv, "wrong"); err == nil {
		t.Fatal("Dial() with a wrong token succeeded")
	}
}

func TestServer_UnknownCodecFailsSession(t *testing.T) {
	t.Parallel()

	srv := startServer(t)
	client, err := dial(t, srv, testToken)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}
	defer sess.Close()

	var exitErr *gossh.ExitError
	if err := sess.Run("xml"); !errors.As(err, &exitErr) || exitErr.ExitStatus() == 0 {
		t.Errorf("Run(xml) error = %v, want a non-zero exit", err)
	}
}

func TestServer_Stop(t *testing.T) {
	t.Parallel()

	srv := startServer(t)
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if srv.State() != serverbase.StateStopped {
		t.Errorf("State() = %s, want stopped", srv.State())
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Token = " " }, wantErr: ErrInvalidTokenValue},
		{name: "blank host", mutate: func(c *Config) { c.Host = "" }, wantErr: ErrInvalidHostAddress},
		{name: "bad port", mutate: func(c *Config) { c.Port = 70000 }, wantErr: ErrInvalidListenPort},
		{name: "bad codec", mutate: func(c *Config) { c.Codec = "xml" }, wantErr: ErrInvalidSSHConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			cfg.Token = testToken
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) || !errors.Is(err, ErrInvalidSSHConfig) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if strings.Contains(fmtErr(err), testToken) {
				t.Errorf("error message leaks the token: %v", err)
			}
		})
	}
}

func fmtErr(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
