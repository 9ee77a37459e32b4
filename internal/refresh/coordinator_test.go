package refresh

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/newedge/merchant-portal/internal/localstore"
	"github.com/newedge/merchant-portal/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expiredToken(t *testing.T) string {
	t.Helper()
	return testToken(t, time.Now().Add(-time.Minute).Unix())
}

func validToken(t *testing.T) string {
	t.Helper()
	return testToken(t, time.Now().Add(time.Hour).Unix())
}

func testToken(t *testing.T, exp int64) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	return enc(map[string]string{"alg": "none"}) + "." + enc(map[string]int64{"exp": exp}) + ".sig"
}

func storeWith(t *testing.T, payload string) *session.Store {
	t.Helper()
	store := session.NewStore(localstore.NewMemStore())
	_, err := store.Save(json.RawMessage(payload))
	require.NoError(t, err)
	return store
}

func newTestCoordinator(t *testing.T, store *session.Store, endpoint string, loggedOut *atomic.Bool) *Coordinator {
	t.Helper()
	c, err := New(store, Config{Endpoint: endpoint}, func() {
		if loggedOut != nil {
			loggedOut.Store(true)
		}
	})
	require.NoError(t, err)
	return c
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(session.NewStore(localstore.NewMemStore()), Config{}, nil)
	assert.ErrorIs(t, err, ErrMissingEndpoint)
}

func TestCheckNowNoSession(t *testing.T) {
	store := session.NewStore(localstore.NewMemStore())
	c := newTestCoordinator(t, store, "http://unused.invalid", nil)
	assert.Equal(t, OutcomeNoSession, c.CheckNow(context.Background()))
}

func TestCheckNowValidTokenNoCall(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer ts.Close()

	store := storeWith(t, fmt.Sprintf(`{"token":{"access_token":"%s","refresh_token":"R"}}`, validToken(t)))
	c := newTestCoordinator(t, store, ts.URL, nil)

	assert.Equal(t, OutcomeTokenValid, c.CheckNow(context.Background()))
	assert.Equal(t, int32(0), calls.Load())
}

func TestCheckNowRefreshSuccess(t *testing.T) {
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"token":{"access_token":"abc","access_token_time":60}}`))
	}))
	defer ts.Close()

	store := storeWith(t, fmt.Sprintf(`{"token":{"access_token":"%s","refresh_token":"R1"}}`, expiredToken(t)))
	var loggedOut atomic.Bool
	c := newTestCoordinator(t, store, ts.URL, &loggedOut)

	assert.Equal(t, OutcomeRefreshed, c.CheckNow(context.Background()))
	assert.Equal(t, map[string]string{"refresh_token": "R1"}, gotBody)
	assert.False(t, loggedOut.Load())

	sess := store.Load()
	require.NotNil(t, sess)
	access, _ := session.ExtractAccessToken(sess)
	assert.Equal(t, "abc", access)
	refreshTok, _ := session.ExtractRefreshToken(sess)
	assert.Equal(t, "R1", refreshTok)
	assert.NotNil(t, sess.RefreshedAt)
}

func TestCheckNowSuccessFalseLogsOut(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"message":"expired refresh"}`))
	}))
	defer ts.Close()

	store := storeWith(t, fmt.Sprintf(`{"token":{"access_token":"%s","refresh_token":"R1"}}`, expiredToken(t)))
	var loggedOut atomic.Bool
	c := newTestCoordinator(t, store, ts.URL, &loggedOut)

	assert.Equal(t, OutcomeLoggedOut, c.CheckNow(context.Background()))
	assert.True(t, loggedOut.Load())
	assert.Nil(t, store.Load())
}

func TestCheckNowTransportErrorLogsOut(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	store := storeWith(t, fmt.Sprintf(`{"token":{"access_token":"%s","refresh_token":"R1"}}`, expiredToken(t)))
	var loggedOut atomic.Bool
	c := newTestCoordinator(t, store, ts.URL, &loggedOut)

	assert.Equal(t, OutcomeLoggedOut, c.CheckNow(context.Background()))
	assert.True(t, loggedOut.Load())
	assert.Nil(t, store.Load())
}

func TestCheckNowKeepSessionOnFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	store := storeWith(t, fmt.Sprintf(`{"token":{"access_token":"%s","refresh_token":"R1"}}`, expiredToken(t)))
	var loggedOut atomic.Bool
	c, err := New(store, Config{Endpoint: ts.URL, KeepSessionOnFailure: true}, func() { loggedOut.Store(true) })
	require.NoError(t, err)

	assert.Equal(t, OutcomeDeferred, c.CheckNow(context.Background()))
	assert.False(t, loggedOut.Load())
	assert.NotNil(t, store.Load())
}

func TestCheckNowNoRefreshTokenLogsOutWithoutCall(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer ts.Close()

	store := storeWith(t, fmt.Sprintf(`{"token":{"access_token":"%s"}}`, expiredToken(t)))
	var loggedOut atomic.Bool
	c := newTestCoordinator(t, store, ts.URL, &loggedOut)

	assert.Equal(t, OutcomeLoggedOut, c.CheckNow(context.Background()))
	assert.True(t, loggedOut.Load())
	assert.Equal(t, int32(0), calls.Load())
}

func TestCheckNowSingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		close(started)
		<-release
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"token":{"access_token":"abc"}}`))
	}))
	defer ts.Close()

	store := storeWith(t, fmt.Sprintf(`{"token":{"access_token":"%s","refresh_token":"R1"}}`, expiredToken(t)))
	c := newTestCoordinator(t, store, ts.URL, nil)

	done := make(chan Outcome, 1)
	go func() { done <- c.CheckNow(context.Background()) }()

	<-started
	// a tick while a refresh is pending must be a no-op
	assert.Equal(t, OutcomeSkipped, c.CheckNow(context.Background()))
	close(release)

	assert.Equal(t, OutcomeRefreshed, <-done)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCheckNowCancelledMidRefresh(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read can observe the
		// client disconnect; otherwise r.Context() is never cancelled and
		// both the handler and ts.Close deadlock.
		io.Copy(io.Discard, r.Body)
		cancel()
		<-r.Context().Done()
	}))
	defer ts.Close()

	store := storeWith(t, fmt.Sprintf(`{"token":{"access_token":"%s","refresh_token":"R1"}}`, expiredToken(t)))
	var loggedOut atomic.Bool
	c := newTestCoordinator(t, store, ts.URL, &loggedOut)

	out := c.CheckNow(ctx)
	assert.Equal(t, OutcomeAborted, out)

	// cancellation must not log out or mutate the session
	assert.False(t, loggedOut.Load())
	sess := store.Load()
	require.NotNil(t, sess)
	refreshTok, _ := session.ExtractRefreshToken(sess)
	assert.Equal(t, "R1", refreshTok)
}
