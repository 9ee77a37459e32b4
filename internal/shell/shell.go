package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lithammer/dedent"
	"github.com/newedge/merchant-portal/internal/localstore"
	"github.com/newedge/merchant-portal/internal/portal"
	"github.com/newedge/merchant-portal/internal/realtime"
	"github.com/newedge/merchant-portal/internal/session"
	"github.com/rs/zerolog/log"
)

// Shell is the authenticated portal surface: it owns the session snapshot,
// the realtime channel handle and the active-tab state for the lifetime of
// one login. A fresh login builds a fresh Shell; logout tears it down.
type Shell struct {
	kv     localstore.Store
	store  *session.Store
	client *portal.Client
	user   session.User

	channel *realtime.Channel
	feed    *realtime.Feed

	mu          sync.Mutex
	activeTab   Tab
	profileName string
	profileImg  string
	profileErr  string
}

// New builds a shell for an authenticated session. The session must carry a
// user object; without one there is nothing to key the realtime channel on.
func New(kv localstore.Store, store *session.Store, client *portal.Client, channelOpts realtime.Options) (*Shell, error) {
	sess := store.Load()
	if sess == nil {
		return nil, errors.New("no valid session")
	}
	user, ok := session.ExtractUser(sess)
	if !ok {
		return nil, errors.New("session payload has no user")
	}

	// The refresh coordinator rotates the access token underneath the shell,
	// so every consumer re-reads it from the store instead of capturing the
	// login-time value.
	currentToken := func() string {
		if cur := store.Load(); cur != nil {
			tok, _ := session.ExtractAccessToken(cur)
			return tok
		}
		return ""
	}
	client.SetAuthSource(currentToken)

	channelOpts.UserID = user.UserID
	channelOpts.BusinessID = user.BusinessID
	if !channelOpts.DevMode {
		channelOpts.TokenFunc = currentToken
	}

	feed := realtime.NewFeed(realtime.DefaultFeedCap)
	s := &Shell{
		kv:        kv,
		store:     store,
		client:    client,
		user:      user,
		feed:      feed,
		activeTab: loadActiveTab(kv),
	}
	s.channel = realtime.NewChannel(channelOpts, func(n realtime.Notification) {
		log.Info().Str("id", n.ID).Str("title", n.Title).Msg("push notification")
		feed.Append(n)
	})

	return s, nil
}

// Start connects the realtime channel and fetches the profile
// augmentation. Profile failures are local; they never invalidate the
// session.
func (s *Shell) Start(ctx context.Context) error {
	if err := s.channel.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("notification channel unavailable")
	}
	s.loadProfile(ctx)
	return nil
}

// Close disconnects the realtime channel. Safe to call more than once.
func (s *Shell) Close() {
	s.channel.Close()
}

// Logout destroys the session and tears the shell down, returning control
// to the login flow.
func (s *Shell) Logout() error {
	s.Close()
	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	log.Info().Int64("userId", s.user.UserID).Msg("logged out")
	return nil
}

// User returns the session's user profile snapshot.
func (s *Shell) User() session.User {
	return s.user
}

// Feed returns the pending realtime notifications.
func (s *Shell) Feed() *realtime.Feed {
	return s.feed
}

// ActiveTab returns the currently selected tab.
func (s *Shell) ActiveTab() Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTab
}

// SetActiveTab switches views and persists the preference.
func (s *Shell) SetActiveTab(t Tab) {
	if !validTab(t) {
		t = TabHome
	}
	s.mu.Lock()
	s.activeTab = t
	s.mu.Unlock()

	if err := s.kv.Set(localstore.KeyActiveTab, string(t)); err != nil {
		log.Warn().Err(err).Msg("failed to persist active tab")
	}
}

// OpenNotification activates a feed item: the item is discarded and the
// view switches to orders. Returns false when the item is gone already.
func (s *Shell) OpenNotification(id string) bool {
	n, ok := s.feed.Activate(id)
	if !ok {
		return false
	}
	log.Info().Str("id", n.ID).Str("orderRef", n.OrderReference).Msg("opening notification")
	s.SetActiveTab(TabOrders)
	return true
}

// DismissNotification discards a feed item without navigation.
func (s *Shell) DismissNotification(id string) bool {
	return s.feed.Dismiss(id)
}

// DisplayName prefers the session's user_name and falls back to the name
// the profile endpoint returned.
func (s *Shell) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user.UserName != "" {
		return s.user.UserName
	}
	if s.profileName != "" {
		return s.profileName
	}
	return "User"
}

// ProfileImage returns the fetched avatar path, empty when unavailable.
func (s *Shell) ProfileImage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileImg
}

// ProfileError returns the last profile-fetch error message, empty when the
// fetch succeeded.
func (s *Shell) ProfileError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileErr
}

func (s *Shell) loadProfile(ctx context.Context) {
	profile, err := s.client.GetProfile(ctx, s.user.UserID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// Display augmentation only; the session stays valid.
		s.profileErr = err.Error()
		log.Warn().Err(err).Int64("userId", s.user.UserID).Msg("profile fetch failed")
		return
	}
	s.profileErr = ""
	s.profileImg = profile.ProfileImage
	if s.user.UserName == "" {
		s.profileName = profile.UserName
	}
}

// Banner renders the shell's startup summary for the log.
func (s *Shell) Banner() string {
	business := s.user.BusinessName
	if business == "" {
		business = "Merchant"
	}
	return strings.TrimSpace(fmt.Sprintf(dedent.Dedent(`
		%s
		user: %s
		tabs: home, orders, add, notifications, payouts
		active tab: %s
	`), business, s.DisplayName(), s.ActiveTab()))
}
