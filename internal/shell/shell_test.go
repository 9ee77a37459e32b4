package shell

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/newedge/merchant-portal/internal/localstore"
	"github.com/newedge/merchant-portal/internal/portal"
	"github.com/newedge/merchant-portal/internal/realtime"
	"github.com/newedge/merchant-portal/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShell(t *testing.T, kv localstore.Store, profileHandler http.HandlerFunc) *Shell {
	t.Helper()

	store := session.NewStore(kv)
	_, err := store.Save(json.RawMessage(`{
		"token":{"access_token":"A1","refresh_token":"R1"},
		"user":{"user_id":7,"business_id":3,"business_name":"Momo House","address":"Thimphu"}
	}`))
	require.NoError(t, err)

	opts := portal.ClientOpts{}
	if profileHandler != nil {
		ts := httptest.NewServer(profileHandler)
		t.Cleanup(ts.Close)
		opts.ProfileURL = ts.URL + "/profile/{user_id}"
	}

	sh, err := New(kv, store, portal.NewClient(opts), realtime.Options{})
	require.NoError(t, err)
	return sh
}

func TestNewRequiresSession(t *testing.T) {
	kv := localstore.NewMemStore()
	_, err := New(kv, session.NewStore(kv), portal.NewClient(portal.ClientOpts{}), realtime.Options{})
	assert.Error(t, err)
}

func TestNewRequiresUser(t *testing.T) {
	kv := localstore.NewMemStore()
	store := session.NewStore(kv)
	_, err := store.Save(json.RawMessage(`{"token":{"access_token":"A1"}}`))
	require.NoError(t, err)

	_, err = New(kv, store, portal.NewClient(portal.ClientOpts{}), realtime.Options{})
	assert.Error(t, err)
}

func TestActiveTabPersistence(t *testing.T) {
	kv := localstore.NewMemStore()
	sh := newTestShell(t, kv, nil)
	assert.Equal(t, TabHome, sh.ActiveTab())

	sh.SetActiveTab(TabPayouts)
	assert.Equal(t, TabPayouts, sh.ActiveTab())

	// a new shell for the same storage restores the preference
	sh2 := newTestShell(t, kv, nil)
	assert.Equal(t, TabPayouts, sh2.ActiveTab())

	// unknown persisted values fall back to home
	require.NoError(t, kv.Set(localstore.KeyActiveTab, "bogus"))
	sh3 := newTestShell(t, kv, nil)
	assert.Equal(t, TabHome, sh3.ActiveTab())
}

func TestOpenNotificationSwitchesToOrders(t *testing.T) {
	sh := newTestShell(t, localstore.NewMemStore(), nil)
	sh.SetActiveTab(TabHome)
	sh.Feed().Append(realtime.Notification{ID: "n1", OrderReference: "ORD-1"})

	assert.True(t, sh.OpenNotification("n1"))
	assert.Equal(t, TabOrders, sh.ActiveTab())
	assert.Equal(t, 0, sh.Feed().Len())

	// already gone
	assert.False(t, sh.OpenNotification("n1"))
}

func TestDismissNotificationKeepsTab(t *testing.T) {
	sh := newTestShell(t, localstore.NewMemStore(), nil)
	sh.SetActiveTab(TabPayouts)
	sh.Feed().Append(realtime.Notification{ID: "n1"})

	assert.True(t, sh.DismissNotification("n1"))
	assert.Equal(t, TabPayouts, sh.ActiveTab())
}

func TestProfileAugmentsDisplayName(t *testing.T) {
	sh := newTestShell(t, localstore.NewMemStore(), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profile/7", r.URL.Path)
		assert.Equal(t, "Bearer A1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"profile_image":"img.jpg","user_name":"Karma"}`))
	})

	require.NoError(t, sh.Start(context.Background()))

	// session has no user_name, the profile fills it in
	assert.Equal(t, "Karma", sh.DisplayName())
	assert.Equal(t, "img.jpg", sh.ProfileImage())
	assert.Empty(t, sh.ProfileError())
}

func TestRefreshedTokenReachesProfileRequests(t *testing.T) {
	auths := make(chan string, 2)
	kv := localstore.NewMemStore()
	sh := newTestShell(t, kv, func(w http.ResponseWriter, r *http.Request) {
		auths <- r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user_name":"Karma"}`))
	})

	require.NoError(t, sh.Start(context.Background()))
	assert.Equal(t, "Bearer A1", <-auths)

	// a background refresh rotates the access token in the store
	st := session.NewStore(kv)
	sess := st.Load()
	require.NotNil(t, sess)
	_, err := st.Update(sess, "A2")
	require.NoError(t, err)

	sh.loadProfile(context.Background())
	assert.Equal(t, "Bearer A2", <-auths)
}

func TestProfileFailureIsLocal(t *testing.T) {
	kv := localstore.NewMemStore()
	sh := newTestShell(t, kv, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	require.NoError(t, sh.Start(context.Background()))

	assert.NotEmpty(t, sh.ProfileError())
	assert.Equal(t, "User", sh.DisplayName())

	// session stays valid
	assert.NotNil(t, session.NewStore(kv).Load())
}

func TestLogoutClearsSession(t *testing.T) {
	kv := localstore.NewMemStore()
	sh := newTestShell(t, kv, nil)

	require.NoError(t, sh.Logout())
	assert.Nil(t, session.NewStore(kv).Load())
}

func TestRememberedLoginRoundTrip(t *testing.T) {
	kv := localstore.NewMemStore()

	assert.Nil(t, LoadRemembered(kv))

	require.NoError(t, SaveRemembered(kv, RememberedLogin{
		Remember:    true,
		Tab:         "phone",
		PhoneDigits: "17112233",
		Password:    "hunter2",
	}))

	r := LoadRemembered(kv)
	require.NotNil(t, r)
	assert.Equal(t, "phone", r.Tab)
	assert.Equal(t, "17112233", r.PhoneDigits)
	assert.Equal(t, "hunter2", r.Password)

	// saving with Remember off clears the slot
	require.NoError(t, SaveRemembered(kv, RememberedLogin{Remember: false}))
	assert.Nil(t, LoadRemembered(kv))
}

func TestClearRemembered(t *testing.T) {
	kv := localstore.NewMemStore()
	require.NoError(t, SaveRemembered(kv, RememberedLogin{Remember: true, Tab: "email", Email: "a@b.c"}))
	require.NoError(t, ClearRemembered(kv))
	assert.Nil(t, LoadRemembered(kv))
}
