// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/capsession/sdk/id"
	"golang.org/x/oauth2"
)

// DefaultAuthRequestExpirySkew defines a default time skew when checking an
// AuthRequest's expiration.
const DefaultAuthRequestExpirySkew = 1 * time.Second

// NewID generates an ID with an optional prefix.  The ID generated is suitable
// for an AuthRequest's state or nonce.
func NewID(optionalPrefix string) (string, error) {
	const op = "NewID"
	v, err := id.New(optionalPrefix)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrIdGeneratorFailed, err)
	}
	return v, nil
}

// AuthRequest represents one authorization attempt.  ID() is the oauth state
// parameter used to match the callback to the attempt, Nonce() is bound into
// the id_token, and CodeVerifier() is the PKCE verifier sent with the code
// exchange.  The ID and Nonce are never equal.
type AuthRequest struct {
	id           string
	nonce        string
	codeVerifier string
	expiration   time.Time
	now          func() time.Time
}

// NewAuthRequest creates a new AuthRequest that expires after expireIn.
//
// Supported options:
//   - WithNow
func NewAuthRequest(expireIn time.Duration, opt ...Option) (*AuthRequest, error) {
	const op = "NewAuthRequest"
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	opts := getAuthRequestOpts(opt...)
	nonce, err := NewID("n")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a request's nonce: %w", op, err)
	}
	state, err := NewID("st")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a request's state: %w", op, err)
	}
	return &AuthRequest{
		id:           state,
		nonce:        nonce,
		codeVerifier: oauth2.GenerateVerifier(),
		expiration:   opts.withNow().Add(expireIn),
		now:          opts.withNow,
	}, nil
}

func (r *AuthRequest) ID() string            { return r.id }           // ID is the oauth state parameter
func (r *AuthRequest) Nonce() string         { return r.nonce }        // Nonce is the oidc nonce
func (r *AuthRequest) CodeVerifier() string  { return r.codeVerifier } // CodeVerifier is the PKCE verifier
func (r *AuthRequest) Expiration() time.Time { return r.expiration }

// IsExpired returns true if the request has expired, using
// DefaultAuthRequestExpirySkew.
func (r *AuthRequest) IsExpired() bool {
	return r.expiration.Before(r.now().Add(DefaultAuthRequestExpirySkew))
}

// AuthURL returns the provider's authorization URL for the request.  The
// "openid" scope is always requested first.
//
// Supported options:
//   - WithScopes
//   - WithAuthParams
func AuthURL(md *ProviderMetadata, client *ClientIdentity, r *AuthRequest, opt ...Option) (string, error) {
	const op = "AuthURL"
	switch {
	case md == nil:
		return "", fmt.Errorf("%s: provider metadata is nil: %w", op, ErrNilParameter)
	case client == nil:
		return "", fmt.Errorf("%s: client identity is nil: %w", op, ErrNilParameter)
	case r == nil:
		return "", fmt.Errorf("%s: auth request is nil: %w", op, ErrNilParameter)
	case md.AuthorizationEndpoint == "":
		return "", fmt.Errorf("%s: authorization_endpoint: %w", op, ErrMissingEndpoint)
	}
	opts := getAuthURLOpts(opt...)

	scopes := []string{ScopeOpenID}
	for _, s := range opts.withScopes {
		if s != "" && !containsString(scopes, s) {
			scopes = append(scopes, s)
		}
	}
	oauth2Config := oauth2.Config{
		ClientID:    client.ClientID(),
		RedirectURL: client.RedirectURL(),
		Endpoint: oauth2.Endpoint{
			AuthURL:  md.AuthorizationEndpoint,
			TokenURL: md.TokenEndpoint,
		},
		Scopes: scopes,
	}
	authCodeOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", r.Nonce()),
		oauth2.S256ChallengeOption(r.CodeVerifier()),
	}
	for k, v := range opts.withAuthParams {
		switch k {
		case "nonce", "state", "code_challenge", "code_challenge_method", "scope", "client_id", "redirect_uri", "response_type":
			// owned by the request
			continue
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam(k, v))
	}
	return oauth2Config.AuthCodeURL(r.ID(), authCodeOpts...), nil
}

// EndSessionURL returns the provider's RP-initiated logout URL.  It returns
// an empty string when the provider has no end_session_endpoint.
func EndSessionURL(md *ProviderMetadata, idTokenHint IdToken, postLogoutRedirectURL string) (string, error) {
	const op = "EndSessionURL"
	if md == nil {
		return "", fmt.Errorf("%s: provider metadata is nil: %w", op, ErrNilParameter)
	}
	if md.EndSessionEndpoint == "" {
		return "", nil
	}
	u, err := url.Parse(md.EndSessionEndpoint)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrInvalidEndpoint, err)
	}
	q := u.Query()
	if idTokenHint != "" {
		q.Set("id_token_hint", string(idTokenHint))
	}
	if postLogoutRedirectURL != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectURL)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func containsString(l []string, s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// authRequestOptions is the set of available options for AuthRequest
type authRequestOptions struct {
	withNow func() time.Time
}

func authRequestDefaults() authRequestOptions {
	return authRequestOptions{withNow: time.Now}
}

func getAuthRequestOpts(opt ...Option) authRequestOptions {
	opts := authRequestDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// authURLOptions is the set of available options for AuthURL
type authURLOptions struct {
	withScopes     []string
	withAuthParams map[string]string
}

func getAuthURLOpts(opt ...Option) authURLOptions {
	var opts authURLOptions
	ApplyOpts(&opts, opt...)
	return opts
}
