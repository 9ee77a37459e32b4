package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/newedge/merchant-portal/internal/localstore"
	"github.com/rs/zerolog/log"
)

// Session wraps the opaque login payload together with bookkeeping
// timestamps. The payload is whatever the login endpoint returned; tokens
// and the user profile are pulled out of it on demand (see token.go).
type Session struct {
	Payload     json.RawMessage `json:"payload"`
	SavedAt     time.Time       `json:"savedAt"`
	RefreshedAt *time.Time      `json:"refreshedAt,omitempty"`
}

// Store persists the session blob to durable local storage. It is the sole
// writer of that slot; everything else gets a snapshot and feeds mutations
// back through Update.
type Store struct {
	kv localstore.Store
}

func NewStore(kv localstore.Store) *Store {
	return &Store{kv: kv}
}

// Load reads the persisted session. It returns nil when the slot is empty,
// when the stored blob fails to parse, or when no access token can be
// extracted from the payload. Malformed storage is treated as absence and
// never surfaces as an error.
func (s *Store) Load() *Session {
	raw, ok, err := s.kv.Get(localstore.KeySession)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read session from storage")
		return nil
	}
	if !ok || raw == "" {
		return nil
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		log.Warn().Err(err).Msg("discarding unparseable session blob")
		return nil
	}
	if len(sess.Payload) == 0 {
		return nil
	}
	if tok, _ := ExtractAccessToken(&sess); tok == "" {
		log.Warn().Msg("discarding session without resolvable access token")
		return nil
	}

	return &sess
}

// Save wraps a raw login payload with a creation timestamp and persists it.
func (s *Store) Save(payload json.RawMessage) (*Session, error) {
	sess := &Session{
		Payload: payload,
		SavedAt: time.Now(),
	}
	if err := s.persist(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Update produces a new session with the access token replaced in whichever
// nested payload location it lives, preserving all sibling fields (the
// refresh token in particular), stamps RefreshedAt and persists the result.
func (s *Store) Update(sess *Session, newAccessToken string) (*Session, error) {
	payload, err := applyAccessToken(sess.Payload, newAccessToken)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	next := &Session{
		Payload:     payload,
		SavedAt:     sess.SavedAt,
		RefreshedAt: &now,
	}
	if err := s.persist(next); err != nil {
		return nil, err
	}
	return next, nil
}

// Clear deletes the persisted session.
func (s *Store) Clear() error {
	return s.kv.Delete(localstore.KeySession)
}

func (s *Store) persist(sess *Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.kv.Set(localstore.KeySession, string(b)); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// applyAccessToken rewrites the access token inside the payload. The
// token-object shape is preferred, then the nested data.token object; if
// neither exists a token object is attached at the top level.
func applyAccessToken(payload json.RawMessage, newAccessToken string) (json.RawMessage, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("failed to parse session payload: %w", err)
	}

	switch {
	case asObject(m["token"]) != nil:
		asObject(m["token"])["access_token"] = newAccessToken
	case asObject(m["data"]) != nil && asObject(asObject(m["data"])["token"]) != nil:
		asObject(asObject(m["data"])["token"])["access_token"] = newAccessToken
	default:
		m["token"] = map[string]any{"access_token": newAccessToken}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session payload: %w", err)
	}
	return b, nil
}
