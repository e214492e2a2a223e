package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wpphub/internal/api"
	"github.com/matheus3301/wpphub/internal/bus"
	"github.com/matheus3301/wpphub/internal/config"
	"github.com/matheus3301/wpphub/internal/dispatch"
	"github.com/matheus3301/wpphub/internal/lock"
	"github.com/matheus3301/wpphub/internal/metrics"
	"github.com/matheus3301/wpphub/internal/registry"
	"github.com/matheus3301/wpphub/internal/store"
	"github.com/matheus3301/wpphub/internal/wa/watest"
	"github.com/matheus3301/wpphub/internal/webhook"
)

// shortTempDir keeps unix socket paths under the 104-char macOS limit.
func shortTempDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", pattern)
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func TestDaemonLifecycle(t *testing.T) {
	dataDir := shortTempDir(t, "wpphub-test-*")
	socketPath := filepath.Join(dataDir, "d.sock")

	lk, err := lock.Acquire(dataDir, lock.Holder{SocketPath: socketPath})
	require.NoError(t, err)
	defer func() { _ = lk.Release() }()

	db, _, err := store.OpenMigrated(filepath.Join(dataDir, "wpphub.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	logger := zap.NewNop()
	b := bus.New()
	dialer := watest.NewDialer()
	dialer.PairingCode = "2@ref,key"
	opts := registry.DefaultOptions()
	opts.PairingTimeout = time.Second
	reg := registry.New(dialer, db, watest.NewCredentials(), b, nil, logger, opts)
	defer reg.Close()
	hub := api.NewHub(reg,
		dispatch.New(reg, b, nil, logger, dispatch.Options{}),
		webhook.New(reg, b, nil, logger, webhook.Options{}),
		db, b, logger,
	)

	cfg := config.Default()
	cfg.Control.Socket = socketPath
	srv, err := NewServer(cfg, logger, hub)
	require.NoError(t, err)
	go func() { _ = srv.Start() }()

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	client, err := api.Dial(socketPath)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	st, err := client.GetStatus(context.Background(), "main")
	require.NoError(t, err)
	assert.False(t, st.Found)

	pairing, err := client.RequestPairing(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, "2@ref,key", pairing.Code)

	st, err = client.GetStatus(context.Background(), "main")
	require.NoError(t, err)
	assert.True(t, st.Found)
	assert.Equal(t, "pending", st.Status.State)

	srv.Stop(context.Background())
	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err), "socket should be removed on stop")
}

// TestStaleSocketIsReplaced covers a daemon restarting after a crash left
// its socket file behind.
func TestStaleSocketIsReplaced(t *testing.T) {
	dir := shortTempDir(t, "wpphub-stale-*")
	socketPath := filepath.Join(dir, "d.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0600))

	cfg := config.Default()
	cfg.Control.Socket = socketPath
	srv, err := NewServer(cfg, zap.NewNop(), &api.Hub{})
	require.NoError(t, err)
	srv.Stop(context.Background())
}

func TestMetricsRouter(t *testing.T) {
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	m.RecordPairing("issued")
	counts := func() map[string]int { return map[string]int{"connected": 2} }
	promReg.MustRegister(metrics.NewSessionCollector(counts))

	srv := httptest.NewServer(newRouter(promReg, counts))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health struct {
		Status   string         `json:"status"`
		Sessions map[string]int `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.Sessions["connected"])

	mresp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = mresp.Body.Close() }()
	assert.Equal(t, http.StatusOK, mresp.StatusCode)

	post, err := http.Post(srv.URL+"/metrics", "text/plain", nil)
	require.NoError(t, err)
	_ = post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

// TestFxModuleWiring verifies the fx dependency graph resolves without
// running any constructor.
func TestFxModuleWiring(t *testing.T) {
	dir := shortTempDir(t, "wpphub-fx-*")
	err := fx.ValidateApp(
		Module(Params{DataDir: dir, SocketPath: filepath.Join(dir, "d.sock")}),
		fx.NopLogger,
	)
	require.NoError(t, err)
}

func TestProvideConfigOverrides(t *testing.T) {
	dir := shortTempDir(t, "wpphub-cfg-*")

	cfg, err := provideConfig(Params{DataDir: dir})
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "wpphubd.sock"), cfg.Control.Socket)
	_, err = os.Stat(filepath.Join(dir, "logs"))
	assert.NoError(t, err)

	cfg, err = provideConfig(Params{DataDir: dir, SocketPath: "/tmp/x.sock"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.sock", cfg.Control.Socket)
}
