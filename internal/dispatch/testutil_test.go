package dispatch_test

import (
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/Kimahriman/spark-connect-proxy/internal/config"
	"github.com/Kimahriman/spark-connect-proxy/internal/dispatch"
	"github.com/Kimahriman/spark-connect-proxy/internal/launcher"
	"github.com/Kimahriman/spark-connect-proxy/internal/session"
)

func prometheusRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()

	return prometheus.NewRegistry()
}

// newTestEngine wires a fresh session store, a launcher pointed at a no-op spark-submit
// script, and an Engine, mirroring how cmd/scproxy assembles these in production.
func newTestEngine(t *testing.T, identify dispatch.UserIdentifier) (*dispatch.Engine, session.Store) {
	t.Helper()

	store := session.NewInMemoryStore()

	home := fakeSparkHome(t)
	l, err := launcher.New([]config.SparkVersion{
		{Name: "default", Home: home, Default: true},
	}, "https://callback:8100", zaptest.NewLogger(t))
	require.NoError(t, err)

	metrics := dispatch.NewMetrics(prometheusRegistry(t))

	return dispatch.New(store, l, metrics, zaptest.NewLogger(t), identify), store
}

// newTestEngineWithHome is like newTestEngine but lets the caller control the default
// version's home directory, used to force a launch failure.
func newTestEngineWithHome(t *testing.T, identify dispatch.UserIdentifier, home string) (*dispatch.Engine, session.Store) {
	t.Helper()

	store := session.NewInMemoryStore()

	l, err := launcher.New([]config.SparkVersion{
		{Name: "default", Home: home, Default: true},
	}, "https://callback:8100", zaptest.NewLogger(t))
	require.NoError(t, err)

	metrics := dispatch.NewMetrics(prometheusRegistry(t))

	return dispatch.New(store, l, metrics, zaptest.NewLogger(t), identify), store
}

func fakeSparkHome(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	binDir := filepath.Join(dir, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "spark-submit"), []byte("#!/bin/sh\nexit 0\n"), 0o755))

	return dir
}

// emptySparkHome returns a directory that exists (so launcher validation passes) but has no
// bin/spark-submit, so Launch's exec.Command(...).Start() deterministically fails.
func emptySparkHome(t *testing.T) string {
	t.Helper()

	return t.TempDir()
}

// h2cBackend starts a plaintext HTTP/2 ("prior knowledge" h2c) server on loopback and returns
// its address and an accept counter, grounding the pump's client-side handshake test the same
// way spec.md §8 describes: "a test backend that counts inbound TCP accepts".
func h2cBackend(t *testing.T, handler http.Handler) (addr string, accepts *atomic.Int64) {
	t.Helper()

	accepts = new(atomic.Int64)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	countingListener := &countingListener{Listener: ln, accepts: accepts}

	srv := &http.Server{Handler: h2c.NewHandler(handler, &http2.Server{})}
	go srv.Serve(countingListener) //nolint:errcheck

	t.Cleanup(func() { srv.Close() }) //nolint:errcheck

	return ln.Addr().String(), accepts
}

type countingListener struct {
	net.Listener
	accepts *atomic.Int64
}

func (c *countingListener) Accept() (net.Conn, error) {
	conn, err := c.Listener.Accept()
	if err == nil {
		c.accepts.Add(1)
	}

	return conn, err
}
