package dispatch

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBearerTokenMissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	_, err := bearerToken(req)
	require.ErrorIs(t, err, errMissingBearer{})
}

func TestBearerTokenMalformedPrefix(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	_, err := bearerToken(req)
	require.Error(t, err)
}

func TestBearerTokenEmptyValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer ")

	_, err := bearerToken(req)
	require.Error(t, err)
}

func TestBearerTokenWellFormed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer abc123")

	token, err := bearerToken(req)
	require.NoError(t, err)
	require.Equal(t, "abc123", token)
}

func TestInitUpstreamCollapsesConcurrentCallers(t *testing.T) {
	cs := &connState{}

	var calls atomic.Int64

	initFn := func() (*upstreamChannel, error) {
		calls.Add(1)

		return &upstreamChannel{requests: make(chan upstreamRequest)}, nil
	}

	const n = 8

	results := make(chan *upstreamChannel, n)

	for i := 0; i < n; i++ {
		go func() {
			up, err := cs.initUpstream(initFn)
			require.NoError(t, err)
			results <- up
		}()
	}

	var first *upstreamChannel
	for i := 0; i < n; i++ {
		up := <-results
		if first == nil {
			first = up
		}

		require.Same(t, first, up, "all concurrent callers observe the same upstream")
	}

	require.EqualValues(t, 1, calls.Load(), "initFn runs exactly once under concurrent callers")
}
