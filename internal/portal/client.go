package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// ClientOpts configures the portal API client. LoginEmailURL, LoginPhoneURL
// and ProfileURL are complete endpoint URLs (the backend exposes them on
// different hosts); the tab resources hang off BaseURL.
type ClientOpts struct {
	BaseURL       string
	LoginEmailURL string
	LoginPhoneURL string
	ProfileURL    string // may contain a {user_id} placeholder
	Auth          string // static bearer token

	// AuthSource, when set, is consulted on every authenticated request and
	// takes precedence over Auth. The access token rotates underneath the
	// client whenever a refresh lands, so the token has to be re-read per
	// request rather than captured once.
	AuthSource func() string
}

// Client talks to the merchant portal's REST endpoints.
type Client struct {
	httpClient *resty.Client
	opts       ClientOpts
}

func NewClient(opts ClientOpts) *Client {
	c := Client{opts: opts}
	c.httpClient = resty.New().
		SetDebug(false).
		SetBaseURL(opts.BaseURL).
		SetHeaders(map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		})

	return &c
}

// SetAuth replaces the static bearer token used for authenticated requests.
func (c *Client) SetAuth(token string) {
	c.opts.Auth = token
}

// SetAuthSource installs a per-request token lookup, typically backed by the
// session store so refreshed tokens are picked up immediately.
func (c *Client) SetAuthSource(source func() string) {
	c.opts.AuthSource = source
}

func (c *Client) req(ctx context.Context, result any) *resty.Request {
	request := c.httpClient.NewRequest().SetContext(ctx)
	auth := c.opts.Auth
	if c.opts.AuthSource != nil {
		auth = c.opts.AuthSource()
	}
	if auth != "" {
		request.SetHeader("Authorization", "Bearer "+auth)
	}
	if result != nil {
		request.SetResult(result)
	}
	return request
}

// LoginEmail authenticates with email credentials and returns the raw login
// payload. The payload is opaque to the caller; the session layer extracts
// tokens from it.
func (c *Client) LoginEmail(ctx context.Context, email, password string) (json.RawMessage, error) {
	if c.opts.LoginEmailURL == "" {
		return nil, fmt.Errorf("email login endpoint is not configured")
	}
	return c.login(ctx, c.opts.LoginEmailURL, map[string]any{
		"email":    strings.TrimSpace(email),
		"password": password,
		"desktop":  true,
	})
}

// LoginPhone authenticates with a phone number. Only the digits the user
// typed are kept; the country prefix is applied here.
func (c *Client) LoginPhone(ctx context.Context, phone, password string) (json.RawMessage, error) {
	if c.opts.LoginPhoneURL == "" {
		return nil, fmt.Errorf("phone login endpoint is not configured")
	}
	digits := digitsOnly(phone)
	if digits == "" {
		return nil, fmt.Errorf("phone number has no digits")
	}
	return c.login(ctx, c.opts.LoginPhoneURL, map[string]any{
		"phone":    "+975" + digits,
		"password": password,
		"desktop":  true,
	})
}

func (c *Client) login(ctx context.Context, endpoint string, body map[string]any) (json.RawMessage, error) {
	res, err := c.httpClient.NewRequest().
		SetContext(ctx).
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("login failed: %s", errorMessage(res))
	}
	return json.RawMessage(res.Body()), nil
}

// Profile is the display augmentation fetched per user; not part of the
// security-sensitive core.
type Profile struct {
	ProfileImage string `json:"profile_image"`
	UserName     string `json:"user_name"`
}

type profileResponse struct {
	Profile
	Data Profile `json:"data"`
}

// GetProfile fetches the user's profile image and display name.
func (c *Client) GetProfile(ctx context.Context, userID int64) (Profile, error) {
	if c.opts.ProfileURL == "" {
		return Profile{}, fmt.Errorf("profile endpoint is not configured")
	}

	result := &profileResponse{}
	res, err := c.req(ctx, result).Get(profileURL(c.opts.ProfileURL, userID))
	if _, err = handleError(res, err); err != nil {
		return Profile{}, err
	}

	p := result.Profile
	if p.ProfileImage == "" {
		p.ProfileImage = result.Data.ProfileImage
	}
	if p.UserName == "" {
		p.UserName = result.Data.UserName
	}
	p.UserName = strings.TrimSpace(p.UserName)
	return p, nil
}

// profileURL substitutes the user id into the configured endpoint. The
// endpoint either carries a {user_id} placeholder or gets the id appended.
func profileURL(base string, userID int64) string {
	id := fmt.Sprintf("%d", userID)
	if strings.Contains(base, "{user_id}") {
		return strings.ReplaceAll(base, "{user_id}", id)
	}
	if strings.HasSuffix(base, "/") {
		return base + id
	}
	return base + "/" + id
}

func digitsOnly(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// handleError is a generic error handler for failing responses (>399 status
// code). Without this, failing responses would have nil error.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, err
	}
	if res.IsError() {
		return res, fmt.Errorf("request failed: %s %s (%s)", res.Request.Method, res.Request.URL, errorMessage(res))
	}
	return res, nil
}

// errorMessage pulls a human-readable message out of an error body. The
// backend is inconsistent about the field name.
func errorMessage(res *resty.Response) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(res.Body(), &body); err == nil {
		for _, m := range []string{body.Message, body.Error, body.Msg} {
			if m != "" {
				return m
			}
		}
	}
	return fmt.Sprintf("status: %d", res.StatusCode())
}
