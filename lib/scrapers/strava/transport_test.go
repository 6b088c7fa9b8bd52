package strava

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerErrorSingleRetry(t *testing.T) {
	site := newFakeSite(t)

	var hits atomic.Int64
	site.mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "ok")
	})

	c := site.newClient(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	res, err := c.get(ctx, "/flaky")
	require.NoError(t, err)
	require.Equal(t, "ok", res.String())
	require.EqualValues(t, 2, hits.Load())
}

func TestServerErrorExhausted(t *testing.T) {
	site := newFakeSite(t)

	var hits atomic.Int64
	site.mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	c := site.newClient(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	_, err := c.get(ctx, "/broken")
	var statusErr StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.Code)
	// exactly one blind retry, never a third request
	require.EqualValues(t, 2, hits.Load())
}

func TestRateLimitedIsNeverRetried(t *testing.T) {
	site := newFakeSite(t)

	var hits atomic.Int64
	site.mux.HandleFunc("/limited", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	c := site.newClient(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	_, err := c.get(ctx, "/limited")
	require.ErrorIs(t, err, ErrTooManyRequests)
	require.EqualValues(t, 1, hits.Load())
}

func TestReconnectOnConnectionDrop(t *testing.T) {
	site := newFakeSite(t)

	var hits atomic.Int64
	site.mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			// kill the connection without a response
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		fmt.Fprint(w, "restored")
	})

	c := site.newClient(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))
	require.EqualValues(t, 1, site.loginPosts.Load())

	res, err := c.get(ctx, "/page")
	require.NoError(t, err)
	require.Equal(t, "restored", res.String())
	// the drop triggered exactly one reconnect
	require.EqualValues(t, 2, site.loginPosts.Load())
}
