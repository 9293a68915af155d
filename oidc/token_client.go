// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/capsession/clientassertion"
	sdkHttp "github.com/hashicorp/capsession/sdk/http"
	"github.com/hashicorp/go-hclog"
)

const (
	// GrantTypeAuthorizationCode is the authorization_code grant
	GrantTypeAuthorizationCode = "authorization_code"
	// GrantTypeRefreshToken is the refresh_token grant
	GrantTypeRefreshToken = "refresh_token"

	// maxResponseSize bounds the token endpoint response body that is read.
	maxResponseSize = 1 << 20
)

// TokenEndpointClient exchanges authorization codes and refresh tokens at a
// provider's token endpoint.  Every request authenticates with a freshly
// minted client assertion; a client_secret is never sent.  It never retries.
type TokenEndpointClient struct {
	client            *http.Client
	logger            hclog.Logger
	now               func() time.Time
	assertionAudience string
}

// NewTokenEndpointClient creates a new TokenEndpointClient.
//
// Supported options:
//   - WithHTTPClient
//   - WithLogger
//   - WithNow
//   - WithAssertionAudience
func NewTokenEndpointClient(opt ...Option) (*TokenEndpointClient, error) {
	const op = "NewTokenEndpointClient"
	opts := getTokenClientOpts(opt...)
	if opts.withAssertionAudience != "" && !isAbsoluteHTTPURL(opts.withAssertionAudience) {
		return nil, fmt.Errorf("%s: assertion audience %q is not an absolute http(s) URL: %w", op, opts.withAssertionAudience, ErrInvalidParameter)
	}
	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = sdkHttp.NewClient("", 0); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &TokenEndpointClient{
		client:            client,
		logger:            opts.withLogger.Named("token-endpoint"),
		now:               opts.withNow,
		assertionAudience: opts.withAssertionAudience,
	}, nil
}

// ExchangeAuthorizationCode exchanges the code for a TokenSet.
//
// Supported options:
//   - WithCodeVerifier
func (c *TokenEndpointClient) ExchangeAuthorizationCode(ctx context.Context, id *ClientIdentity, md *ProviderMetadata, code string, opt ...Option) (*TokenSet, error) {
	const op = "TokenEndpointClient.ExchangeAuthorizationCode"
	if id == nil {
		return nil, fmt.Errorf("%s: client identity is nil: %w", op, ErrNilParameter)
	}
	if code == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	opts := getExchangeOpts(opt...)
	form := url.Values{
		"grant_type":   {GrantTypeAuthorizationCode},
		"code":         {code},
		"redirect_uri": {id.RedirectURL()},
	}
	if opts.withCodeVerifier != "" {
		form.Set("code_verifier", opts.withCodeVerifier)
	}
	ts, err := c.do(ctx, id, md, form)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ts, nil
}

// Refresh exchanges the refresh token for a new TokenSet.  When the response
// omits a refresh_token, the caller decides whether to keep the old one (see
// TokenSet.WithPrevious).
func (c *TokenEndpointClient) Refresh(ctx context.Context, id *ClientIdentity, md *ProviderMetadata, t RefreshToken) (*TokenSet, error) {
	const op = "TokenEndpointClient.Refresh"
	if id == nil {
		return nil, fmt.Errorf("%s: client identity is nil: %w", op, ErrNilParameter)
	}
	if t == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	form := url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {string(t)},
	}
	ts, err := c.do(ctx, id, md, form)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ts, nil
}

// AssertionAudience returns the client assertion audience used for md: the
// configured canonical audience, otherwise the token endpoint.
func (c *TokenEndpointClient) AssertionAudience(md *ProviderMetadata) string {
	if c.assertionAudience != "" {
		return c.assertionAudience
	}
	return md.TokenEndpoint
}

func (c *TokenEndpointClient) do(ctx context.Context, id *ClientIdentity, md *ProviderMetadata, form url.Values) (*TokenSet, error) {
	const op = "TokenEndpointClient.do"
	if md == nil {
		return nil, fmt.Errorf("%s: provider metadata is nil: %w", op, ErrNilParameter)
	}
	if md.TokenEndpoint == "" {
		return nil, fmt.Errorf("%s: token_endpoint: %w", op, ErrMissingEndpoint)
	}
	if err := c.authenticate(id, md, form); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, md.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create token request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	grant := form.Get("grant_type")
	c.logger.Debug("token request", "grant_type", grant, "endpoint", md.TokenEndpoint)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
	}
	defer resp.Body.Close()
	issuedAt := c.now()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: unable to read token response: %w", op, ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		exErr := newExchangeError(resp, body)
		c.logger.Debug("token request failed", "grant_type", grant, "status", resp.StatusCode, "error", exErr.ErrorCode)
		return nil, fmt.Errorf("%s: %w", op, exErr)
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedResponse, err)
	}
	ts, err := NewTokenSet(&tr, issuedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ts, nil
}

// authenticate adds the client assertion to the form, replacing any
// client_secret.
func (c *TokenEndpointClient) authenticate(id *ClientIdentity, md *ProviderMetadata, form url.Values) error {
	const op = "TokenEndpointClient.authenticate"
	j, err := id.Assertion(c.AssertionAudience(md), clientassertion.WithNow(c.now))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	assertion, err := j.Serialize()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	form.Del("client_secret")
	form.Set("client_id", id.ClientID())
	form.Set("client_assertion_type", clientassertion.JWTTypeParam)
	form.Set("client_assertion", string(assertion))
	return nil
}

func newExchangeError(resp *http.Response, body []byte) *ExchangeError {
	e := &ExchangeError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if ct == "application/json" || json.Valid(body) {
		var oauthErr struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		if err := json.Unmarshal(body, &oauthErr); err == nil {
			e.ErrorCode = oauthErr.Error
			e.Description = oauthErr.Description
		}
	}
	return e
}

// tokenClientOptions is the set of available options for TokenEndpointClient
type tokenClientOptions struct {
	withHTTPClient        *http.Client
	withLogger            hclog.Logger
	withNow               func() time.Time
	withAssertionAudience string
}

func tokenClientDefaults() tokenClientOptions {
	return tokenClientOptions{
		withLogger: hclog.NewNullLogger(),
		withNow:    time.Now,
	}
}

func getTokenClientOpts(opt ...Option) tokenClientOptions {
	opts := tokenClientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// exchangeOptions is the set of available options for
// TokenEndpointClient.ExchangeAuthorizationCode
type exchangeOptions struct {
	withCodeVerifier string
}

func getExchangeOpts(opt ...Option) exchangeOptions {
	var opts exchangeOptions
	ApplyOpts(&opts, opt...)
	return opts
}

// WithCodeVerifier provides the PKCE code_verifier for the authorization code
// exchange.
func WithCodeVerifier(verifier string) Option {
	return func(o interface{}) {
		if o, ok := o.(*exchangeOptions); ok {
			o.withCodeVerifier = verifier
		}
	}
}
