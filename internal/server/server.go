// Package server wraps net/http with TLS cert hot-reload, HTTP/2 (h2c when TLS is absent),
// and graceful shutdown, matching the teacher's internal/backend server lifecycle.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/Kimahriman/spark-connect-proxy/internal/xcontext"
)

const shutdownGrace = 5 * time.Second

// TLSFiles names the cert/key pair to terminate TLS with. A nil value means plaintext.
type TLSFiles struct {
	CertFile string
	KeyFile  string
}

// Server runs a single net/http listener, optionally over TLS with hot-reloadable certs.
type Server struct {
	httpServer *http.Server
	cert       *certData
}

// New builds a Server bound to addr, serving handler. When tlsFiles is non-nil, the server
// terminates TLS and negotiates HTTP/2 via ALPN; otherwise it serves HTTP/2 cleartext (h2c),
// since proxied Spark Connect traffic is itself HTTP/2.
func New(addr string, handler http.Handler, tlsFiles *TLSFiles) *Server {
	var cert *certData
	if tlsFiles != nil {
		cert = &certData{certFile: tlsFiles.CertFile, keyFile: tlsFiles.KeyFile}
	} else {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: handler},
		cert:       cert,
	}
}

// HTTPServer exposes the underlying *http.Server so callers can set fields net/http doesn't
// let us wrap generically — notably ConnContext, which the dispatch engine uses to attach
// per-connection proxy state (internal/dispatch.WithConnState).
func (s *Server) HTTPServer() *http.Server { return s.httpServer }

// Run serves until ctx is canceled, then attempts a graceful shutdown.
func (s *Server) Run(ctx context.Context, logger *zap.Logger) error {
	logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
	defer logger.Info("server stopped", zap.String("addr", s.httpServer.Addr))

	stop := xcontext.AfterFuncSync(ctx, func() {
		logger.Info("server stopping", zap.String("addr", s.httpServer.Addr))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := s.shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully stop server", zap.Error(err))
		}
	})
	defer stop()

	if err := s.listenAndServe(ctx, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}

func (s *Server) listenAndServe(ctx context.Context, logger *zap.Logger) error {
	if s.cert == nil {
		return s.httpServer.ListenAndServe()
	}

	if err := s.cert.load(); err != nil {
		return err
	}

	s.httpServer.TLSConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return s.cert.get()
		},
		NextProtos: []string{"h2", "http/1.1"},
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	go func() {
		for {
			err := s.cert.watch(watchCtx, logger)
			if err == nil || watchCtx.Err() != nil {
				errCh <- nil

				return
			}

			logger.Error("cert watcher crashed, restarting", zap.Error(err))
			time.Sleep(time.Second)
		}
	}()

	go func() {
		defer cancel()

		errCh <- s.httpServer.ListenAndServeTLS("", "")
	}()

	if err := <-errCh; err != nil {
		return err
	}

	return <-errCh
}

func (s *Server) shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}

	if closeErr := s.httpServer.Close(); closeErr != nil {
		return fmt.Errorf("failed to close server: %w", closeErr)
	}

	return err
}

// certData holds a TLS certificate loaded from disk and kept current by an fsnotify watch.
type certData struct {
	certFile string
	keyFile  string

	mu     sync.Mutex
	cert   tls.Certificate
	loaded bool
}

func (c *certData) load() error {
	cert, err := tls.LoadX509KeyPair(c.certFile, c.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS cert/key: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cert = cert
	c.loaded = true

	return nil
}

func (c *certData) get() (*tls.Certificate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		return nil, fmt.Errorf("tls cert not loaded yet")
	}

	return &c.cert, nil
}

func (c *certData) watch(ctx context.Context, logger *zap.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer w.Close() //nolint:errcheck

	if err := w.Add(c.certFile); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.certFile, err)
	}

	if err := w.Add(c.keyFile); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.keyFile, err)
	}

	for {
		select {
		case ev := <-w.Events:
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			if err := c.load(); err != nil {
				logger.Error("failed to reload TLS cert", zap.Error(err))

				continue
			}

			logger.Info("reloaded TLS cert", zap.String("event", ev.String()))
		case err := <-w.Errors:
			return fmt.Errorf("fsnotify error: %w", err)
		case <-ctx.Done():
			return nil
		}
	}
}
