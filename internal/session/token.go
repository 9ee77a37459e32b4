package session

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSkew is the safety margin subtracted from a token's expiry so that
// a token about to expire is refreshed proactively instead of being used
// and rejected by the server.
const DefaultSkew = 15 * time.Second

// TokenShape identifies which of the accepted payload shapes a token was
// extracted from. The backend has returned the login payload in several
// layouts over time, so extraction probes an explicit ordered list of
// shapes instead of ad hoc conditionals.
type TokenShape int

const (
	ShapeNone TokenShape = iota
	ShapeTokenObject     // payload.token.access_token
	ShapeDataTokenObject // payload.data.token.access_token
	ShapeTokenString     // payload.token is a bare token string
	ShapeDataTokenString // payload.data.token is a bare token string
	ShapeTopLevel        // payload.refresh_token / payload.access_token
	ShapeDataTopLevel    // payload.data.refresh_token / payload.data.access_token
)

func (ts TokenShape) String() string {
	switch ts {
	case ShapeTokenObject:
		return "token-object"
	case ShapeDataTokenObject:
		return "data-token-object"
	case ShapeTokenString:
		return "token-string"
	case ShapeDataTokenString:
		return "data-token-string"
	case ShapeTopLevel:
		return "top-level"
	case ShapeDataTopLevel:
		return "data-top-level"
	default:
		return "none"
	}
}

// ExtractAccessToken returns the first non-empty access token found in the
// session payload, together with the shape that matched.
func ExtractAccessToken(sess *Session) (string, TokenShape) {
	m := payloadMap(sess)
	if m == nil {
		return "", ShapeNone
	}

	if tok := objectField(m, "token", "access_token"); tok != "" {
		return tok, ShapeTokenObject
	}
	if tok := objectField(asObject(m["data"]), "token", "access_token"); tok != "" {
		return tok, ShapeDataTokenObject
	}
	if tok, ok := m["token"].(string); ok && tok != "" {
		return tok, ShapeTokenString
	}
	if tok, ok := asObject(m["data"])["token"].(string); ok && tok != "" {
		return tok, ShapeDataTokenString
	}

	return "", ShapeNone
}

// ExtractRefreshToken performs the same multi-shape lookup for the refresh
// token.
func ExtractRefreshToken(sess *Session) (string, TokenShape) {
	m := payloadMap(sess)
	if m == nil {
		return "", ShapeNone
	}

	if tok := objectField(m, "token", "refresh_token"); tok != "" {
		return tok, ShapeTokenObject
	}
	if tok, ok := m["refresh_token"].(string); ok && tok != "" {
		return tok, ShapeTopLevel
	}
	if tok := objectField(asObject(m["data"]), "token", "refresh_token"); tok != "" {
		return tok, ShapeDataTokenObject
	}
	if tok, ok := asObject(m["data"])["refresh_token"].(string); ok && tok != "" {
		return tok, ShapeDataTopLevel
	}

	return "", ShapeNone
}

// DecodeClaims decodes a token's claims without verifying its signature.
// The token must have three dot-separated segments; the middle segment is
// parsed as an unverified JWT payload, with a lenient base64 fallback for
// tokens whose middle segment carries padding or non-url-safe characters.
// Returns nil on any failure.
func DecodeClaims(token string) map[string]any {
	if token == "" {
		return nil
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		return map[string]any(claims)
	}

	// Fallback decode path for sloppy issuers.
	seg := parts[1]
	if pad := len(seg) % 4; pad != 0 {
		seg += strings.Repeat("=", 4-pad)
	}
	seg = strings.ReplaceAll(seg, "-", "+")
	seg = strings.ReplaceAll(seg, "_", "/")
	b, err := base64.StdEncoding.DecodeString(seg)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

// IsExpired reports whether the token is expired (or about to expire within
// skew). Undecodable claims or a missing/non-numeric exp claim count as
// expired.
func IsExpired(token string, skew time.Duration) bool {
	claims := DecodeClaims(token)
	if claims == nil {
		return true
	}
	exp, ok := numericClaim(claims["exp"])
	if !ok {
		return true
	}
	return time.Now().Unix() >= int64(exp)-int64(skew.Seconds())
}

func numericClaim(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func payloadMap(sess *Session) map[string]any {
	if sess == nil || len(sess.Payload) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(sess.Payload, &m); err != nil {
		return nil
	}
	return m
}

func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func objectField(m map[string]any, key, field string) string {
	obj := asObject(m[key])
	if obj == nil {
		return ""
	}
	s, _ := obj[field].(string)
	return s
}
