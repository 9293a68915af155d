// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/capsession/clientassertion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenEndpointClient(t *testing.T) {
	t.Parallel()
	t.Run("defaults", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewTokenEndpointClient()
		require.NoError(err)
		assert.NotNil(c.client)
		assert.Equal("https://idp.example/token", c.AssertionAudience(&ProviderMetadata{TokenEndpoint: "https://idp.example/token"}))
	})
	t.Run("canonical-audience", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewTokenEndpointClient(WithAssertionAudience("https://idp.example/token"))
		require.NoError(err)
		assert.Equal("https://idp.example/token", c.AssertionAudience(&ProviderMetadata{TokenEndpoint: "http://localhost:3000/proxy/token"}))
	})
	t.Run("relative-audience", func(t *testing.T) {
		_, err := NewTokenEndpointClient(WithAssertionAudience("/proxy/token"))
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestTokenEndpointClient_ExchangeAuthorizationCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, id := testStartProvider(t)
		tp.SetExpectedAuthCode("abc")
		tp.SetExpiresIn(60)
		now := time.Now()
		c, err := NewTokenEndpointClient(WithHTTPClient(tp.HTTPClient()), WithNow(func() time.Time { return now }))
		require.NoError(err)

		ts, err := c.ExchangeAuthorizationCode(ctx, id, tp.Metadata(), "abc")
		require.NoError(err)
		assert.NotEmpty(ts.AccessToken())
		assert.NotEmpty(ts.IdToken())
		assert.NotEmpty(ts.RefreshToken())
		assert.True(now.Add(60 * time.Second).Equal(ts.ExpiresAt()))

		form := tp.LastTokenRequest()
		assert.Equal(GrantTypeAuthorizationCode, form.Get("grant_type"))
		assert.Equal("abc", form.Get("code"))
		assert.Equal(testRedirectURL, form.Get("redirect_uri"))
		assert.Equal(testClientID, form.Get("client_id"))
		assert.Equal(clientassertion.JWTTypeParam, form.Get("client_assertion_type"))
		assert.NotEmpty(form.Get("client_assertion"))
		assert.False(form.Has("client_secret"))

		tok, err := jwt.ParseSigned(form.Get("client_assertion"), []jose.SignatureAlgorithm{jose.ES256})
		require.NoError(err)
		assert.Equal(testKeyID, tok.Headers[0].KeyID)
	})

	t.Run("fresh-assertion-per-request", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, id := testStartProvider(t)
		tp.SetExpectedAuthCode("abc")
		c, err := NewTokenEndpointClient(WithHTTPClient(tp.HTTPClient()))
		require.NoError(err)

		_, err = c.ExchangeAuthorizationCode(ctx, id, tp.Metadata(), "abc")
		require.NoError(err)
		first := tp.LastTokenRequest().Get("client_assertion")
		_, err = c.ExchangeAuthorizationCode(ctx, id, tp.Metadata(), "abc")
		require.NoError(err, "the provider rejects replayed assertions")
		second := tp.LastTokenRequest().Get("client_assertion")
		assert.NotEqual(first, second)
		assert.Equal(2, tp.TokenRequestCount())
	})

	t.Run("with-code-verifier", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, id := testStartProvider(t)
		tp.SetExpectedAuthCode("abc")
		c, err := NewTokenEndpointClient(WithHTTPClient(tp.HTTPClient()))
		require.NoError(err)
		_, err = c.ExchangeAuthorizationCode(ctx, id, tp.Metadata(), "abc", WithCodeVerifier("verifier"))
		require.NoError(err)
		assert.Equal("verifier", tp.LastTokenRequest().Get("code_verifier"))
	})

	t.Run("proxied-endpoint-canonical-audience", func(t *testing.T) {
		require := require.New(t)
		tp, id := testStartProvider(t)
		tp.SetExpectedAuthCode("abc")
		tp.SetAssertionAudience("https://idp.example/oauth2/token")
		c, err := NewTokenEndpointClient(WithHTTPClient(tp.HTTPClient()))
		require.NoError(err)
		_, err = c.ExchangeAuthorizationCode(ctx, id, tp.Metadata(), "abc")
		require.Error(err)
		require.ErrorIs(err, ErrExchangeFailed)

		c, err = NewTokenEndpointClient(WithHTTPClient(tp.HTTPClient()), WithAssertionAudience("https://idp.example/oauth2/token"))
		require.NoError(err)
		_, err = c.ExchangeAuthorizationCode(ctx, id, tp.Metadata(), "abc")
		require.NoError(err)
	})

	t.Run("provider-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, id := testStartProvider(t)
		tp.SetExpectedAuthCode("abc")
		c, err := NewTokenEndpointClient(WithHTTPClient(tp.HTTPClient()))
		require.NoError(err)
		_, err = c.ExchangeAuthorizationCode(ctx, id, tp.Metadata(), "wrong")
		require.Error(err)
		var exErr *ExchangeError
		require.True(errors.As(err, &exErr))
		assert.Equal(http.StatusBadRequest, exErr.StatusCode)
		assert.Equal("invalid_grant", exErr.ErrorCode)
		assert.Equal("unexpected auth code", exErr.Description)
		assert.Contains(exErr.Body, "invalid_grant")
		assert.Equal(ProtocolClass, Classify(err))
	})

	t.Run("opaque-error-body", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, id := testStartProvider(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream unavailable"))
		}))
		t.Cleanup(srv.Close)
		c, err := NewTokenEndpointClient(WithHTTPClient(srv.Client()))
		require.NoError(err)
		_, err = c.ExchangeAuthorizationCode(ctx, id, &ProviderMetadata{TokenEndpoint: srv.URL}, "abc")
		var exErr *ExchangeError
		require.True(errors.As(err, &exErr))
		assert.Equal(http.StatusBadGateway, exErr.StatusCode)
		assert.Equal("upstream unavailable", exErr.Body)
		assert.Empty(exErr.ErrorCode)
		assert.Contains(err.Error(), "token exchange failed: 502 - upstream unavailable")
	})

	t.Run("malformed-response", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, id := testStartProvider(t)
		bodies := []string{`{"token_type":"Bearer"}`, `not json`}
		for _, body := range bodies {
			body := body
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(body))
			}))
			c, err := NewTokenEndpointClient(WithHTTPClient(srv.Client()))
			require.NoError(err)
			_, err = c.ExchangeAuthorizationCode(ctx, id, &ProviderMetadata{TokenEndpoint: srv.URL}, "abc")
			srv.Close()
			assert.ErrorIs(err, ErrMalformedResponse, body)
		}
	})

	t.Run("transport-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, id := testStartProvider(t)
		srv := httptest.NewServer(http.NotFoundHandler())
		endpoint := srv.URL
		srv.Close()
		c, err := NewTokenEndpointClient()
		require.NoError(err)
		_, err = c.ExchangeAuthorizationCode(ctx, id, &ProviderMetadata{TokenEndpoint: endpoint}, "abc")
		assert.ErrorIs(err, ErrTransport)
		assert.Equal(NetworkClass, Classify(err))
	})

	t.Run("invalid-params", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, id := testStartProvider(t)
		c, err := NewTokenEndpointClient(WithHTTPClient(tp.HTTPClient()))
		require.NoError(err)
		_, err = c.ExchangeAuthorizationCode(ctx, nil, tp.Metadata(), "abc")
		assert.ErrorIs(err, ErrNilParameter)
		_, err = c.ExchangeAuthorizationCode(ctx, id, tp.Metadata(), "")
		assert.ErrorIs(err, ErrInvalidParameter)
		_, err = c.ExchangeAuthorizationCode(ctx, id, nil, "abc")
		assert.ErrorIs(err, ErrNilParameter)
		_, err = c.ExchangeAuthorizationCode(ctx, id, &ProviderMetadata{}, "abc")
		assert.ErrorIs(err, ErrMissingEndpoint)
		assert.Equal(0, tp.TokenRequestCount())
	})
}

func TestTokenEndpointClient_Refresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, id := testStartProvider(t)
		tp.SetExpectedAuthCode("abc")
		c, err := NewTokenEndpointClient(WithHTTPClient(tp.HTTPClient()))
		require.NoError(err)
		first, err := c.ExchangeAuthorizationCode(ctx, id, tp.Metadata(), "abc")
		require.NoError(err)

		second, err := c.Refresh(ctx, id, tp.Metadata(), first.RefreshToken())
		require.NoError(err)
		assert.NotEqual(first.AccessToken(), second.AccessToken())
		form := tp.LastTokenRequest()
		assert.Equal(GrantTypeRefreshToken, form.Get("grant_type"))
		assert.Equal(string(first.RefreshToken()), form.Get("refresh_token"))
		assert.False(form.Has("redirect_uri"))
		assert.False(form.Has("client_secret"))
		assert.NotEmpty(form.Get("client_assertion"))

		_, err = c.Refresh(ctx, id, tp.Metadata(), first.RefreshToken())
		require.Error(err, "refresh tokens are rotated")
		assert.ErrorIs(err, ErrExchangeFailed)
	})

	t.Run("empty-refresh-token", func(t *testing.T) {
		tp, id := testStartProvider(t)
		c, err := NewTokenEndpointClient(WithHTTPClient(tp.HTTPClient()))
		require.NoError(t, err)
		_, err = c.Refresh(ctx, id, tp.Metadata(), "")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}
