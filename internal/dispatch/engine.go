// Package dispatch implements the request dispatch engine: routing, bearer-token auth, lazy
// HTTP/2 upstream establishment, and the control-plane REST API.
package dispatch

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kimahriman/spark-connect-proxy/internal/cache"
	"github.com/Kimahriman/spark-connect-proxy/internal/launcher"
	"github.com/Kimahriman/spark-connect-proxy/internal/logging"
	"github.com/Kimahriman/spark-connect-proxy/internal/session"
)

// grpcPathPrefix is the path prefix spec.md §4.3 routes to the upstream proxy rather than the
// REST router.
const grpcPathPrefix = "/spark.connect.SparkConnectService"

// versionsCacheTTL bounds how often GET /versions re-walks the configured spark_versions slice.
// The list only ever changes across a process restart, but re-deriving it on every request is
// needless work on a hot control-plane endpoint.
const versionsCacheTTL = 10 * time.Second

// Engine is the top-level http.Handler installed on the proxy's main listener. It classifies
// each request by path prefix and dispatches to either the upstream proxy or the REST router,
// grounded on the teacher's k8sproxy.Handler top-level dispatch shape.
type Engine struct {
	store    session.Store
	launcher *launcher.Launcher
	metrics  *Metrics
	logger   *zap.Logger
	identify UserIdentifier

	rest          http.Handler
	versionsCache cache.Value[[]string]
}

// New builds an Engine. identify defaults to StubUserIdentifier when nil.
func New(store session.Store, l *launcher.Launcher, metrics *Metrics, logger *zap.Logger, identify UserIdentifier) *Engine {
	if identify == nil {
		identify = StubUserIdentifier
	}

	e := &Engine{
		store:         store,
		launcher:      l,
		metrics:       metrics,
		logger:        logger.With(logging.Component("dispatch")),
		identify:      identify,
		versionsCache: cache.Value[[]string]{Duration: versionsCacheTTL},
	}
	e.rest = e.restRouter()

	return e
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, grpcPathPrefix) {
		e.proxyGRPC(w, r)

		return
	}

	e.rest.ServeHTTP(w, r)
}

// proxyGRPC implements spec.md §4.3's upstream proxying state machine for one request.
func (e *Engine) proxyGRPC(w http.ResponseWriter, r *http.Request) {
	cs := connStateFromContext(r.Context())
	if cs == nil {
		// No ConnContext hook installed (e.g. a test server using httptest without wiring
		// WithConnState). Treat as a fresh, single-request connection.
		cs = &connState{}
	}

	up, err := cs.initUpstream(func() (*upstreamChannel, error) {
		return e.establishUpstream(r)
	})
	if err != nil {
		e.writeInitError(w, err)

		return
	}

	reply := make(chan upstreamReply, 1)

	select {
	case up.requests <- upstreamRequest{req: r, reply: reply}:
	case <-r.Context().Done():
		return
	}

	select {
	case res := <-reply:
		if res.err != nil {
			e.metrics.ProxyRequests.WithLabelValues("error").Inc()
			http.Error(w, "upstream error", http.StatusBadGateway)

			return
		}

		e.metrics.ProxyRequests.WithLabelValues("ok").Inc()
		copyResponse(w, res.resp)
	case <-r.Context().Done():
	}
}

// errNoSessionAddr is returned by establishUpstream when the session exists but the backend
// hasn't called back yet.
type errNoSessionAddr struct{}

func (errNoSessionAddr) Error() string { return "session has no backend address yet" }

// errUnknownToken is returned by establishUpstream when no session matches the bearer token.
type errUnknownToken struct{}

func (errUnknownToken) Error() string { return "unknown bearer token" }

// establishUpstream performs spec.md §4.3 step 1: extract the token, resolve the session and
// its address, and spawn the pump. Called only inside the connState's singleflight-guarded
// init path, so concurrent first requests share one call, and it is not called again once it
// has succeeded for the connection.
func (e *Engine) establishUpstream(r *http.Request) (*upstreamChannel, error) {
	token, err := bearerToken(r)
	if err != nil {
		return nil, err
	}

	sess, ok := e.store.GetSessionByToken(token)
	if !ok {
		return nil, errUnknownToken{}
	}

	if sess.Addr == nil {
		return nil, errNoSessionAddr{}
	}

	return newUpstream(r.Context(), *sess.Addr, e.metrics, e.logger)
}

func (e *Engine) writeInitError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case errMissingBearer:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errUnknownToken, errNoSessionAddr:
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		e.logger.Error("failed to establish upstream", zap.Error(err))
		http.Error(w, "failed to establish upstream", http.StatusBadGateway)
	}
}
