package dispatch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/Kimahriman/spark-connect-proxy/internal/logging"
)

const dialTimeout = 5 * time.Second

// upstreamRequest is the (request, reply_channel) tuple spec.md §4.3 enqueues on the slot.
// The reply channel is buffered so the pump's send never blocks on an inbound caller that
// has already given up (spec.md §5 "Cancellation").
type upstreamRequest struct {
	req   *http.Request
	reply chan upstreamReply
}

type upstreamReply struct {
	resp *http.Response
	err  error
}

// upstreamChannel is the sender half of a lazily-established per-connection upstream, realizing
// spec.md's UpstreamChannel data model entity.
type upstreamChannel struct {
	requests chan upstreamRequest
}

// newUpstream dials addr, performs the HTTP/2 client handshake, and starts the pump goroutine
// that drains requests until the queue is closed. It returns once the handshake succeeds, so a
// dial/handshake failure is reported synchronously to the caller instead of surfacing later as
// a queue failure (spec.md §4.3 step 1d, §7 "Upstream TCP/handshake failure").
func newUpstream(ctx context.Context, addr string, metrics *Metrics, logger *zap.Logger) (*upstreamChannel, error) {
	logger = logger.With(logging.Component("pump"), zap.String("addr", addr))

	dialer := net.Dialer{Timeout: dialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial upstream %s: %w", addr, err)
	}

	transport := &http2.Transport{AllowHTTP: true}

	// http2.ClientConn's internal read loop is the "sibling task that drives the connection
	// object to completion" spec.md §4.3 step 3 describes; the library spawns it for us.
	clientConn, err := transport.NewClientConn(conn)
	if err != nil {
		conn.Close() //nolint:errcheck

		return nil, fmt.Errorf("failed to perform HTTP/2 handshake with %s: %w", addr, err)
	}

	up := &upstreamChannel{requests: make(chan upstreamRequest)}

	metrics.ActiveUpstreams.Inc()

	go runPump(addr, clientConn, conn, up.requests, logger, metrics)

	return up, nil
}

func runPump(addr string, clientConn *http2.ClientConn, conn net.Conn, requests <-chan upstreamRequest, logger *zap.Logger, metrics *Metrics) {
	defer metrics.ActiveUpstreams.Dec()
	defer conn.Close() //nolint:errcheck

	logger.Debug("pump started")
	defer logger.Debug("pump exiting")

	for r := range requests {
		resp, err := submit(clientConn, addr, r.req)
		if err != nil {
			logger.Debug("per-request upstream error, pump survives", zap.Error(err))
		}

		r.reply <- upstreamReply{resp: resp, err: err}
	}
}

// submit rewrites req's URI onto the backend, per spec.md's gRPC passthrough rule: "scheme
// rewritten to http and authority rewritten to its own address; path-and-query preserved
// verbatim".
func submit(clientConn *http2.ClientConn, addr string, req *http.Request) (*http.Response, error) {
	outReq := req.Clone(req.Context())
	outReq.URL.Scheme = "http"
	outReq.URL.Host = addr
	outReq.Host = addr
	outReq.RequestURI = ""

	resp, err := clientConn.RoundTrip(outReq)
	if err != nil {
		return nil, fmt.Errorf("upstream round trip failed: %w", err)
	}

	return resp, nil
}

// copyResponse writes an upstream response onto w, preserving headers, streamed body, and
// HTTP/2 trailers (gRPC status/message travel as trailers).
func copyResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close() //nolint:errcheck

	dst := w.Header()
	for k, vv := range resp.Header {
		dst[k] = append(dst[k], vv...)
	}

	if len(resp.Trailer) > 0 {
		trailerNames := make([]string, 0, len(resp.Trailer))
		for k := range resp.Trailer {
			trailerNames = append(trailerNames, k)
		}

		dst.Set("Trailer", trailerNames[0])
		for _, k := range trailerNames[1:] {
			dst.Add("Trailer", k)
		}
	}

	w.WriteHeader(resp.StatusCode)

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	_, _ = io.Copy(w, resp.Body)

	// Trailers the backend did not declare up front (the usual case for gRPC) only become
	// known here; http.TrailerPrefix lets net/http send them after the header was written.
	for k, vv := range resp.Trailer {
		for _, v := range vv {
			w.Header().Add(http.TrailerPrefix+k, v)
		}
	}
}
