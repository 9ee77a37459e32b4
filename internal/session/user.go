package session

import (
	"encoding/json"
	"strconv"
	"strings"
)

// User is the subset of the login payload's user profile that the portal
// shell and the realtime channel need. Everything else in the payload stays
// opaque.
type User struct {
	UserID       int64
	UserName     string
	BusinessID   int64
	BusinessName string
	BusinessLogo string
	Address      string
}

// ExtractUser probes payload.user and payload.data.user for the profile.
// The boolean is false when no user object is present.
func ExtractUser(sess *Session) (User, bool) {
	m := payloadMap(sess)
	if m == nil {
		return User{}, false
	}

	obj := asObject(m["user"])
	if obj == nil {
		obj = asObject(asObject(m["data"])["user"])
	}
	if obj == nil {
		return User{}, false
	}

	u := User{
		UserName:     strings.TrimSpace(stringField(obj, "user_name")),
		BusinessName: stringField(obj, "business_name"),
		BusinessLogo: stringField(obj, "business_logo"),
		Address:      stringField(obj, "address"),
	}

	if id, ok := int64Field(obj, "user_id"); ok {
		u.UserID = id
	} else if id, ok := int64Field(obj, "id"); ok {
		u.UserID = id
	}
	if id, ok := int64Field(obj, "business_id"); ok {
		u.BusinessID = id
	}

	return u, true
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// int64Field tolerates numeric and string-encoded ids.
func int64Field(m map[string]any, key string) (int64, bool) {
	switch v := m[key].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
