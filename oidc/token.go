// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpirySkew is subtracted from a token's expiry when deciding whether
// it has expired.
const DefaultExpirySkew = 10 * time.Second

// AccessToken is an oauth access_token
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// IdToken is an oidc id_token
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// RefreshToken is an oauth refresh_token
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// TokenResponse is a successful token endpoint response body.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    ExpiresIn `json:"expires_in"`
	IdToken      string    `json:"id_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	SessionState string    `json:"session_state,omitempty"`
}

// ExpiresIn is the token lifetime in seconds.  Some providers send it as a
// JSON string, so both encodings are accepted.
type ExpiresIn int64

// UnmarshalJSON accepts a number, a numeric string or null.  A float is
// accepted when it's a whole number of seconds (3600.0).
func (e *ExpiresIn) UnmarshalJSON(b []byte) error {
	const op = "ExpiresIn.UnmarshalJSON"
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*e = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*e = ExpiresIn(n)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return fmt.Errorf("%s: expires_in %q is not an integer: %w", op, s, ErrMalformedResponse)
	}
	*e = ExpiresIn(f)
	return nil
}

// TokenSet is the normalized result of a token exchange.  It's immutable;
// renewal produces a new TokenSet instead of modifying the current one.
type TokenSet struct {
	accessToken  AccessToken
	tokenType    string
	idToken      IdToken
	refreshToken RefreshToken
	scope        string
	sessionState string
	expiresIn    time.Duration
	issuedAt     time.Time
	expiresAt    time.Time
}

// NewTokenSet creates a TokenSet from a token endpoint response received at
// issuedAt.  ExpiresAt is issuedAt + expires_in; it's zero when the provider
// didn't send expires_in.
func NewTokenSet(r *TokenResponse, issuedAt time.Time) (*TokenSet, error) {
	const op = "NewTokenSet"
	if r == nil {
		return nil, fmt.Errorf("%s: token response is nil: %w", op, ErrNilParameter)
	}
	if r.AccessToken == "" {
		return nil, fmt.Errorf("%s: access_token is missing: %w", op, ErrMalformedResponse)
	}
	if r.ExpiresIn < 0 {
		return nil, fmt.Errorf("%s: expires_in is negative: %w", op, ErrMalformedResponse)
	}
	ts := &TokenSet{
		accessToken:  AccessToken(r.AccessToken),
		tokenType:    r.TokenType,
		idToken:      IdToken(r.IdToken),
		refreshToken: RefreshToken(r.RefreshToken),
		scope:        r.Scope,
		sessionState: r.SessionState,
		expiresIn:    time.Duration(r.ExpiresIn) * time.Second,
		issuedAt:     issuedAt,
	}
	if ts.tokenType == "" {
		ts.tokenType = "Bearer"
	}
	if r.ExpiresIn > 0 {
		ts.expiresAt = issuedAt.Add(ts.expiresIn)
	}
	return ts, nil
}

func (t *TokenSet) AccessToken() AccessToken   { return t.accessToken }
func (t *TokenSet) TokenType() string          { return t.tokenType }
func (t *TokenSet) IdToken() IdToken           { return t.idToken }
func (t *TokenSet) RefreshToken() RefreshToken { return t.refreshToken }
func (t *TokenSet) Scope() string              { return t.scope }
func (t *TokenSet) SessionState() string       { return t.sessionState }
func (t *TokenSet) ExpiresIn() time.Duration   { return t.expiresIn }
func (t *TokenSet) IssuedAt() time.Time        { return t.issuedAt }

// ExpiresAt is the zero time when the provider didn't specify a lifetime.
func (t *TokenSet) ExpiresAt() time.Time { return t.expiresAt }

// Expired reports whether the access token is expired at now, treating it as
// expired skew early.  A token without an expiry never expires.
func (t *TokenSet) Expired(now time.Time, skew time.Duration) bool {
	if t == nil {
		return true
	}
	if t.expiresAt.IsZero() {
		return false
	}
	return t.expiresAt.Round(0).Before(now.Add(skew))
}

// Valid reports whether the set has an access token that isn't expired at
// now (with DefaultExpirySkew).
func (t *TokenSet) Valid(now time.Time) bool {
	if t == nil || t.accessToken == "" {
		return false
	}
	return !t.Expired(now, DefaultExpirySkew)
}

// Token converts the set to an *oauth2.Token, with the id_token and
// session_state available via Extra.
func (t *TokenSet) Token() *oauth2.Token {
	tk := &oauth2.Token{
		AccessToken:  string(t.accessToken),
		TokenType:    t.tokenType,
		RefreshToken: string(t.refreshToken),
		Expiry:       t.expiresAt,
	}
	extra := map[string]interface{}{}
	if t.idToken != "" {
		extra["id_token"] = string(t.idToken)
	}
	if t.sessionState != "" {
		extra["session_state"] = t.sessionState
	}
	if t.scope != "" {
		extra["scope"] = t.scope
	}
	if len(extra) > 0 {
		tk = tk.WithExtra(extra)
	}
	return tk
}

// WithPrevious returns a new TokenSet which carries over the refresh_token
// and id_token of prev when a refresh response omitted them.
func (t *TokenSet) WithPrevious(prev *TokenSet) *TokenSet {
	cp := *t
	if prev == nil {
		return &cp
	}
	if cp.refreshToken == "" {
		cp.refreshToken = prev.refreshToken
	}
	if cp.idToken == "" {
		cp.idToken = prev.idToken
	}
	return &cp
}
