package dispatch

import (
	"context"
	"net"
	"sync"

	"golang.org/x/sync/singleflight"
)

// connStateKey is the context key the per-connection state is stored under, installed via
// http.Server.ConnContext and recovered per-request in the handler chain. Matches the
// teacher's ctxstore.Value pattern of a private key type keyed off the context.
type connStateKey struct{}

// connState is the per-inbound-connection proxy state from spec.md §4.3: at most one
// upstream slot, guarded by a mutex, with a private singleflight.Group to collapse
// concurrent first-request initializations (SPEC_FULL.md §4.3.1).
type connState struct {
	mu       sync.Mutex
	upstream *upstreamChannel
	sf       singleflight.Group

	remoteAddr string
}

// WithConnState installs a fresh connState into ctx for a newly accepted connection. Intended
// to be used as the value of http.Server.ConnContext.
func WithConnState(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connStateKey{}, &connState{remoteAddr: c.RemoteAddr().String()})
}

func connStateFromContext(ctx context.Context) *connState {
	cs, _ := ctx.Value(connStateKey{}).(*connState)

	return cs
}

func (cs *connState) getUpstream() *upstreamChannel {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.upstream
}

// initUpstream collapses concurrent callers onto a single in-flight initFn call and stores the
// result in the slot on success; once the slot is filled, initFn is not called again. A failed
// attempt does not populate the slot, so the next request on the connection runs initFn anew,
// matching spec.md §9's "only insert after the pump has been successfully spawned".
func (cs *connState) initUpstream(initFn func() (*upstreamChannel, error)) (*upstreamChannel, error) {
	if up := cs.getUpstream(); up != nil {
		return up, nil
	}

	v, err, _ := cs.sf.Do("upstream", func() (any, error) {
		if up := cs.getUpstream(); up != nil {
			return up, nil
		}

		up, err := initFn()
		if err != nil {
			return nil, err
		}

		cs.mu.Lock()
		cs.upstream = up
		cs.mu.Unlock()

		return up, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*upstreamChannel), nil //nolint:forcetypeassert
}
