package shell

import (
	"encoding/json"

	"github.com/newedge/merchant-portal/internal/localstore"
	"github.com/rs/zerolog/log"
)

// RememberedLogin caches login credentials for the "remember me" checkbox.
//
// The credentials, password included, are stored in PLAINTEXT in local
// storage. This is an explicitly opt-in convenience feature carried over
// from the original portal; nothing enables it by default.
type RememberedLogin struct {
	Remember    bool   `json:"remember"`
	Tab         string `json:"tab"` // "email" or "phone"
	Email       string `json:"email,omitempty"`
	PhoneDigits string `json:"phoneDigits,omitempty"`
	Password    string `json:"password,omitempty"`
}

// LoadRemembered returns the cached credentials, or nil when none are
// stored or the blob is unreadable.
func LoadRemembered(kv localstore.Store) *RememberedLogin {
	raw, ok, err := kv.Get(localstore.KeyRemember)
	if err != nil || !ok || raw == "" {
		return nil
	}
	var r RememberedLogin
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		log.Warn().Err(err).Msg("discarding unreadable remembered login")
		return nil
	}
	if !r.Remember {
		return nil
	}
	return &r
}

// SaveRemembered persists the credentials when Remember is set and clears
// the slot otherwise.
func SaveRemembered(kv localstore.Store, r RememberedLogin) error {
	if !r.Remember {
		return kv.Delete(localstore.KeyRemember)
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return kv.Set(localstore.KeyRemember, string(b))
}

// ClearRemembered removes any cached credentials.
func ClearRemembered(kv localstore.Store) error {
	return kv.Delete(localstore.KeyRemember)
}
