package amaterasu

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeAPI(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestRestGatewayURL(t *testing.T) {
	srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gateway", r.URL.Path)
		assert.Equal(t, "Bot token.abc", r.Header.Get("Authorization"))
		w.Write([]byte(`{"url":"wss://gateway.example"}`))
	})

	rc := NewRestClient("token.abc", WithAPIBase(srv.URL), WithRestLogger(quietLogger()))
	url, err := rc.GatewayURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway.example", url)
}

func TestRestUserFetch(t *testing.T) {
	srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/u1", r.URL.Path)
		w.Write([]byte(`{"id":"u1","username":"rin","bot":true}`))
	})

	rc := NewRestClient("token.abc", WithAPIBase(srv.URL), WithRestLogger(quietLogger()))
	u, err := rc.User(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "rin", u.Username)
	assert.True(t, u.Bot)
}

func TestRestAuthFailuresWrapErrAuth(t *testing.T) {
	srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"401: Unauthorized"}`))
	})

	rc := NewRestClient("bad", WithAPIBase(srv.URL), WithRestLogger(quietLogger()))
	_, err := rc.User(context.Background(), "u1")
	require.ErrorIs(t, err, ErrAuth)
}

func TestRestServerErrorIsNotAuth(t *testing.T) {
	srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	rc := NewRestClient("token.abc", WithAPIBase(srv.URL), WithRestLogger(quietLogger()))
	_, err := rc.User(context.Background(), "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuth)
}

func TestRestCreateDMAndMessage(t *testing.T) {
	srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/@me/channels":
			assert.Equal(t, http.MethodPost, r.Method)
			w.Write([]byte(`{"id":"dm1","type":1}`))
		case "/channels/dm1/messages":
			assert.Equal(t, http.MethodPost, r.Method)
			w.Write([]byte(`{"id":"m1","channel_id":"dm1","content":"hi"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	rc := NewRestClient("token.abc", WithAPIBase(srv.URL), WithRestLogger(quietLogger()))

	ch, err := rc.CreateDM(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "dm1", ch.ID)

	m, err := rc.CreateMessage(context.Background(), ch.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", m.Content)
}

func TestSessionUserPrefersCache(t *testing.T) {
	var hits atomic.Int32
	srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"id":"u1","username":"fetched"}`))
	})

	rc := NewRestClient("token.abc", WithAPIBase(srv.URL), WithRestLogger(quietLogger()))
	s := New("token.abc", WithRestClient(rc), WithLogger(quietLogger()))

	// Miss goes to the request service and fills the cache.
	u, err := s.User(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "fetched", u.Username)
	assert.EqualValues(t, 1, hits.Load())

	// Hit never leaves the process.
	_, err = s.User(context.Background(), "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestSessionWebhooksRefillAfterInvalidate(t *testing.T) {
	var hits atomic.Int32
	srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/channels/c1/webhooks", r.URL.Path)
		w.Write([]byte(`[{"id":"w1","channel_id":"c1","token":"tok"}]`))
	})

	rc := NewRestClient("token.abc", WithAPIBase(srv.URL), WithRestLogger(quietLogger()))
	s := New("token.abc", WithRestClient(rc), WithLogger(quietLogger()))

	hooks, err := s.ChannelWebhooks(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.EqualValues(t, 1, hits.Load())

	// Cached now.
	_, err = s.ChannelWebhooks(context.Background(), "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())

	// A webhooks-update clears the slot; the next lookup re-fetches.
	s.State().InvalidateWebhooks("c1")
	hooks, err = s.ChannelWebhooks(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.EqualValues(t, 2, hits.Load())
}

func TestSessionUserWithoutRestClient(t *testing.T) {
	s := New("token.abc", WithLogger(quietLogger()))
	u, err := s.User(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, u)
}
