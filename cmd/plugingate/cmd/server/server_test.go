package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideamans/plugingate/pkg/shared/logging"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func writeConfig(t *testing.T, path, serviceName string, port int) {
	t.Helper()
	content := fmt.Sprintf(`
service:
  name: %q
server:
  host: 127.0.0.1
  port: %d
oauth2:
  client_id: test-client-id
  client_secret: test-client-secret
session:
  secret: %s
kvs:
  default:
    type: memory
`, serviceName, port, testSecret)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

type runningServer struct {
	addr   string
	cancel context.CancelFunc
	done   chan error
}

func startRun(t *testing.T, cfg Config) *runningServer {
	t.Helper()
	ready := make(chan string, 1)
	cfg.Ready = func(addr string) { ready <- addr }
	if cfg.Logger == nil {
		cfg.Logger = logging.NewTestLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs := &runningServer{cancel: cancel, done: make(chan error, 1)}
	go func() { rs.done <- Run(ctx, cfg) }()

	select {
	case rs.addr = <-ready:
	case err := <-rs.done:
		cancel()
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server did not become ready")
	}
	return rs
}

func (rs *runningServer) stop(t *testing.T) {
	t.Helper()
	rs.cancel()
	select {
	case err := <-rs.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func getJSON(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestRunServesAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugingate.yaml")
	port := freePort(t)
	writeConfig(t, path, "First", port)

	rs := startRun(t, Config{ConfigPath: path})
	defer rs.stop(t)

	code, body := getJSON(t, "http://"+rs.addr+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["sessions"])

	_, body = getJSON(t, "http://"+rs.addr+"/")
	assert.Equal(t, "First", body["message"])

	writeConfig(t, path, "Second", port)
	require.Eventually(t, func() bool {
		_, body := getJSON(t, "http://"+rs.addr+"/")
		return body["message"] == "Second"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRunFlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugingate.yaml")
	writeConfig(t, path, "Flags", 1)

	port := freePort(t)
	rs := startRun(t, Config{ConfigPath: path, Port: port, PortSet: true})
	defer rs.stop(t)

	assert.True(t, strings.HasSuffix(rs.addr, fmt.Sprintf(":%d", port)))
}

func TestRunFallsBackToEnvironment(t *testing.T) {
	port := freePort(t)
	t.Setenv("GOOGLE_CLIENT_ID", "env-client-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "env-client-secret")
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("PORT", fmt.Sprint(port))

	rs := startRun(t, Config{
		ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"),
		Host:       "127.0.0.1",
		HostSet:    true,
	})
	defer rs.stop(t)

	_, body := getJSON(t, "http://"+rs.addr+"/")
	assert.Equal(t, "Figma OAuth Backend Server", body["message"])
}

func TestRunReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	port := freePort(t)
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte(fmt.Sprintf(
		"GOOGLE_CLIENT_ID=dotenv-id\nGOOGLE_CLIENT_SECRET=dotenv-secret\nSESSION_SECRET=%s\nPORT=%d\n", testSecret, port)), 0o644))

	for _, key := range []string{"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "SESSION_SECRET", "PORT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	rs := startRun(t, Config{DotEnv: []string{dotenv}, Host: "127.0.0.1", HostSet: true})
	defer rs.stop(t)

	code, _ := getJSON(t, "http://"+rs.addr+"/health")
	assert.Equal(t, http.StatusOK, code)
}

func TestRunInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugingate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 3000\n"), 0o644))

	err := Run(context.Background(), Config{ConfigPath: path, Logger: logging.NewTestLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Configuration validation failed")
	assert.Contains(t, err.Error(), "oauth2.client_id is required")
	assert.Contains(t, err.Error(), "session.secret is required")
}

func TestRunListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	path := filepath.Join(t.TempDir(), "plugingate.yaml")
	writeConfig(t, path, "Busy", ln.Addr().(*net.TCPAddr).Port)

	err = Run(context.Background(), Config{ConfigPath: path, Logger: logging.NewTestLogger()})
	assert.ErrorContains(t, err, "failed to listen")
}

func TestApplyFlagsMovesDerivedCallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugingate.yaml")
	writeConfig(t, path, "Callback", 3000)

	cfg, _, err := loadConfig(Config{ConfigPath: path, Port: 4000, PortSet: true})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:4000/auth/google/callback", cfg.OAuth2.CallbackURL)
}
