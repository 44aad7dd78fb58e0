package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/stsync/internal/api"
	"github.com/nerrad567/stsync/internal/infrastructure/database"
)

const fakeCLIScript = `#!/bin/sh
case "$1" in
devices)
	echo '[{"deviceId":"d1","label":"Lamp"},{"deviceId":"d2","label":"Fan"}]'
	;;
devices:status)
	echo '{"components":{"main":{"healthCheck":{"DeviceWatch-DeviceStatus":{"value":"online"}},"switch":{"switch":{"value":"on"}}}}}'
	;;
devices:commands)
	exit 0
	;;
*)
	echo "unknown command $1" >&2
	exit 2
	;;
esac
`

// writeFakeCLI installs a shell script answering like the SmartThings CLI.
func writeFakeCLI(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smartthings")
	if err := os.WriteFile(path, []byte(fakeCLIScript), 0o700); err != nil {
		t.Fatalf("writing fake CLI: %v", err)
	}
	return path
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close() //nolint:errcheck // only needed the port
	return port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, "/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config error", err)
	}
}

// TestRun_InvalidConfigValues verifies validation errors stop startup.
func TestRun_InvalidConfigValues(t *testing.T) {
	path := writeConfig(t, `
cli:
  path: /bin/true
polling:
  interval: 0s
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, path)
	if err == nil || !strings.Contains(err.Error(), "polling.interval") {
		t.Errorf("run() error = %v, want polling.interval validation error", err)
	}
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"default", "", "", defaultConfigPath},
		{"env override", "", "/custom/env.yaml", "/custom/env.yaml"},
		{"flag wins", "/custom/flag.yaml", "/custom/env.yaml", "/custom/flag.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STSYNC_CONFIG", tt.env)
			if got := resolveConfigPath(tt.flag); got != tt.want {
				t.Errorf("resolveConfigPath(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	const key = "STSYNC_TEST_ENV_FILE_VALUE"
	t.Cleanup(func() { os.Unsetenv(key) }) //nolint:errcheck // test cleanup

	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("loadEnvFile(missing) error = %v, want nil", err)
	}
	if err := loadEnvFile(""); err != nil {
		t.Errorf("loadEnvFile(\"\") error = %v, want nil", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0o600); err != nil {
		t.Fatalf("writing env file: %v", err)
	}
	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile() error = %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s = %q, want %q", key, got, "from-file")
	}
}

func TestTokenCommand(t *testing.T) {
	const secret = "main-test-secret-with-32-characters"
	path := writeConfig(t, fmt.Sprintf(`
cli:
  path: /bin/true
api:
  auth:
    jwt_secret: %s
`, secret))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--config", path, "--env-file", "", "--subject", "wall-panel", "--scope", "control"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("token command error = %v", err)
	}

	claims, err := api.ParseToken(strings.TrimSpace(out.String()), secret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "wall-panel" || claims.Scope != api.ScopeControl {
		t.Errorf("claims = %s/%s, want wall-panel/control", claims.Subject, claims.Scope)
	}
}

func TestTokenCommand_Errors(t *testing.T) {
	noSecret := writeConfig(t, "cli:\n  path: /bin/true\n")
	withSecret := writeConfig(t, "cli:\n  path: /bin/true\napi:\n  auth:\n    jwt_secret: main-test-secret-with-32-characters\n")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no secret", []string{"token", "--config", noSecret}, "jwt_secret is not set"},
		{"bad scope", []string{"token", "--config", withSecret, "--scope", "admin"}, "invalid token scope"},
		{"missing config", []string{"token", "--config", "/nonexistent.yaml"}, "loading config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetOut(io.Discard)
			cmd.SetArgs(append(tt.args, "--env-file", ""))
			err := cmd.Execute()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Execute() error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestOpenAccessLog(t *testing.T) {
	for _, dest := range []string{"", "stdout", "stderr"} {
		w, closeFn, err := openAccessLog(dest)
		if err != nil {
			t.Errorf("openAccessLog(%q) error = %v", dest, err)
		}
		if (dest == "") != (w == nil) {
			t.Errorf("openAccessLog(%q) writer = %v", dest, w)
		}
		if err := closeFn(); err != nil {
			t.Errorf("close(%q) error = %v", dest, err)
		}
	}

	path := filepath.Join(t.TempDir(), "access.log")
	w, closeFn, err := openAccessLog(path)
	if err != nil {
		t.Fatalf("openAccessLog(file) error = %v", err)
	}
	fmt.Fprintln(w, "line")
	if err := closeFn(); err != nil {
		t.Fatalf("close error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "line\n" {
		t.Errorf("access log contents = %q, %v; want %q", data, err, "line\n")
	}

	if _, _, err := openAccessLog(filepath.Join(t.TempDir(), "missing", "dir", "access.log")); err == nil {
		t.Error("openAccessLog(unwritable) error = nil, want error")
	}
}

// TestHealthCheck_AllDisabled verifies nil connections are skipped.
func TestHealthCheck_AllDisabled(t *testing.T) {
	if err := healthCheck(context.Background(), nil, nil, nil); err != nil {
		t.Errorf("healthCheck() error = %v, want nil", err)
	}
}

// TestHealthCheck_Database verifies a closed database fails the check.
func TestHealthCheck_Database(t *testing.T) {
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "health.db"),
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}

	ctx := context.Background()
	if err := healthCheck(ctx, db, nil, nil); err != nil {
		t.Errorf("healthCheck() on open database error = %v", err)
	}

	db.Close() //nolint:errcheck // closing to force a failure
	err = healthCheck(ctx, db, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "database") {
		t.Errorf("healthCheck() on closed database error = %v, want database error", err)
	}
}

// TestRun_SuccessfulStartupAndShutdown starts the whole daemon against a
// fake CLI, waits for devices to reconcile over the API, sends a toggle and
// then shuts down.
func TestRun_SuccessfulStartupAndShutdown(t *testing.T) {
	cli := writeFakeCLI(t)
	port := freePort(t)
	dbPath := filepath.Join(t.TempDir(), "stsync.db")

	path := writeConfig(t, fmt.Sprintf(`
cli:
  path: %s
  timeout: 5s
  graceful_timeout: 500ms
polling:
  interval: 100ms
  shutdown_grace: 2s
database:
  enabled: true
  path: %s
  wal_mode: true
  busy_timeout: 5
api:
  enabled: true
  host: 127.0.0.1
  port: %d
logging:
  level: error
  format: text
  output: stderr
`, cli, dbPath, port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, path)
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d/api/v1", port)
	client := &http.Client{Timeout: time.Second}

	var devices struct {
		Devices []struct {
			ID    string `json:"id"`
			State struct {
				HealthStatus string `json:"health_status"`
				SwitchState  string `json:"switch_state"`
			} `json:"state"`
		} `json:"devices"`
		Count int `json:"count"`
	}

	reconciled := func() bool {
		resp, err := client.Get(base + "/devices")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
			return false
		}
		if devices.Count != 2 {
			return false
		}
		for _, d := range devices.Devices {
			if d.State.HealthStatus != "online" || d.State.SwitchState != "on" {
				return false
			}
		}
		return true
	}

	deadline := time.Now().Add(5 * time.Second)
	for !reconciled() {
		select {
		case err := <-errCh:
			t.Fatalf("run() exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("devices not reconciled in time, last response = %+v", devices)
		}
		time.Sleep(50 * time.Millisecond)
	}

	resp, err := client.Post(base+"/devices/d1/toggle", "application/json", nil)
	if err != nil {
		t.Fatalf("POST toggle: %v", err)
	}
	var toggled map[string]any
	json.NewDecoder(resp.Body).Decode(&toggled) //nolint:errcheck // checked via fields below
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("toggle status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	if toggled["capability"] != "switch" || toggled["value"] != "off" {
		t.Errorf("toggle response = %v, want switch:off", toggled)
	}

	resp, err = client.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() error = %v, want nil", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}

// TestRun_ContextCancelledDuringStartup verifies run returns promptly when
// the context is already cancelled.
func TestRun_ContextCancelledDuringStartup(t *testing.T) {
	cli := writeFakeCLI(t)
	path := writeConfig(t, fmt.Sprintf(`
cli:
  path: %s
api:
  enabled: false
logging:
  level: error
  output: stderr
`, cli))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, path)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() error = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}
