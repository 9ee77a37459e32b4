package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/newedge/merchant-portal/internal/session"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultInterval is the time between expiry checks while a session is
	// present. The backend's access tokens are short-lived, so the check is
	// frequent.
	DefaultInterval = 25 * time.Second
)

// ErrMissingEndpoint is returned when no refresh endpoint is configured.
// There is no point retrying; the operator has to fix the config.
var ErrMissingEndpoint = errors.New("refresh endpoint is not configured")

// Outcome describes what a single expiry check did.
type Outcome int

const (
	// OutcomeNoSession means there was nothing to check.
	OutcomeNoSession Outcome = iota
	// OutcomeTokenValid means the access token is present and not expired.
	OutcomeTokenValid
	// OutcomeRefreshed means a new access token was obtained and stored.
	OutcomeRefreshed
	// OutcomeLoggedOut means the session was destroyed (no access token,
	// no refresh token, or the refresh call failed).
	OutcomeLoggedOut
	// OutcomeSkipped means another refresh was already in flight.
	OutcomeSkipped
	// OutcomeDeferred means the refresh failed but the session was kept
	// (only with KeepSessionOnFailure set); the next tick tries again.
	OutcomeDeferred
	// OutcomeAborted means the check's context was cancelled mid-refresh.
	// The session is left untouched.
	OutcomeAborted
)

// Config holds the coordinator's tunables.
type Config struct {
	// Endpoint is the refresh endpoint URL. Required.
	Endpoint string
	// Interval between periodic checks. Defaults to DefaultInterval.
	Interval time.Duration
	// Skew is the expiry safety margin. Defaults to session.DefaultSkew.
	Skew time.Duration
	// KeepSessionOnFailure keeps the session after a failed refresh so the
	// next tick can try again. The default (false) logs out on any refresh
	// failure, including pure connectivity failures, which matches the
	// portal's behavior to date.
	KeepSessionOnFailure bool
}

// Coordinator periodically checks the stored access token for expiry and
// exchanges the refresh token for a new one when needed. At most one
// refresh call is in flight at a time, shared between the boot-time check
// and the periodic loop.
type Coordinator struct {
	store      *session.Store
	client     *resty.Client
	cfg        Config
	onLogout   func()
	refreshing atomic.Bool
}

// New creates a coordinator. onLogout is invoked after the session store
// has been cleared; it returns control to the login flow.
func New(store *session.Store, cfg Config, onLogout func()) (*Coordinator, error) {
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Skew <= 0 {
		cfg.Skew = session.DefaultSkew
	}
	if onLogout == nil {
		onLogout = func() {}
	}

	return &Coordinator{
		store:    store,
		client:   resty.New(),
		cfg:      cfg,
		onLogout: onLogout,
	}, nil
}

// Run checks immediately and then on every interval until the context is
// cancelled or the session is logged out.
func (c *Coordinator) Run(ctx context.Context) error {
	log.Info().Dur("interval", c.cfg.Interval).Msg("starting session refresh loop")

	if out := c.CheckNow(ctx); out == OutcomeLoggedOut {
		return nil
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping session refresh loop")
			return ctx.Err()
		case <-ticker.C:
			if out := c.CheckNow(ctx); out == OutcomeLoggedOut {
				return nil
			}
		}
	}
}

// CheckNow performs a single expiry check. The session is re-read from
// storage on every call to tolerate external mutation of the stored blob.
// A call while a refresh is already in flight is a no-op.
func (c *Coordinator) CheckNow(ctx context.Context) Outcome {
	if !c.refreshing.CompareAndSwap(false, true) {
		return OutcomeSkipped
	}
	defer c.refreshing.Store(false)

	sess := c.store.Load()
	if sess == nil {
		return OutcomeNoSession
	}

	access, _ := session.ExtractAccessToken(sess)
	if access == "" {
		log.Warn().Msg("session has no access token, logging out")
		c.logout()
		return OutcomeLoggedOut
	}
	if !session.IsExpired(access, c.cfg.Skew) {
		return OutcomeTokenValid
	}

	refreshToken, shape := session.ExtractRefreshToken(sess)
	if refreshToken == "" {
		log.Warn().Msg("access token expired and no refresh token available, logging out")
		c.logout()
		return OutcomeLoggedOut
	}

	log.Info().Stringer("shape", shape).Msg("access token expired, refreshing")

	newAccess, err := c.exchange(ctx, refreshToken)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			// Owner went away mid-refresh; do not touch the session.
			return OutcomeAborted
		}
		if c.cfg.KeepSessionOnFailure {
			log.Warn().Err(err).Msg("token refresh failed, keeping session until next check")
			return OutcomeDeferred
		}
		log.Warn().Err(err).Msg("token refresh failed, logging out")
		c.logout()
		return OutcomeLoggedOut
	}

	if _, err := c.store.Update(sess, newAccess); err != nil {
		log.Error().Err(err).Msg("failed to store refreshed access token")
		c.logout()
		return OutcomeLoggedOut
	}

	log.Info().Msg("access token refreshed")
	return OutcomeRefreshed
}

type refreshResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Msg     string `json:"msg"`
	Token   struct {
		AccessToken string `json:"access_token"`
	} `json:"token"`
}

// exchange posts the refresh token and returns the new access token. The
// backend may answer 200 with success:false; that is a failure like any
// non-2xx status.
func (c *Coordinator) exchange(ctx context.Context, refreshToken string) (string, error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"refresh_token": refreshToken}).
		Post(c.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("refresh request failed: %w", err)
	}

	var body refreshResponse
	_ = json.Unmarshal(res.Body(), &body)

	if res.IsError() || !body.Success {
		msg := firstNonEmpty(body.Message, body.Error, body.Msg)
		if msg == "" {
			msg = fmt.Sprintf("refresh failed (%d)", res.StatusCode())
		}
		return "", errors.New(msg)
	}
	if body.Token.AccessToken == "" {
		return "", errors.New("refresh response missing token.access_token")
	}

	return body.Token.AccessToken, nil
}

func (c *Coordinator) logout() {
	if err := c.store.Clear(); err != nil {
		log.Error().Err(err).Msg("failed to clear session store")
	}
	c.onLogout()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
