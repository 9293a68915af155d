// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken_Redaction(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		tk   fmt.Stringer
		want string
	}{
		{"access_token", AccessToken("super secret token"), RedactedAccessToken},
		{"id_token", IdToken("super secret token"), RedactedIdToken},
		{"refresh_token", RefreshToken("super secret token"), RedactedRefreshToken},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			assert.Equal(tt.want, tt.tk.String())
			assert.Equal(tt.want, fmt.Sprintf("%s", tt.tk))
			got, err := json.Marshal(tt.tk)
			require.NoError(err)
			assert.Equal(fmt.Sprintf(`"%s"`, tt.want), string(got))
		})
	}
}

func TestNewTokenSet(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name          string
		resp          *TokenResponse
		wantExpiresAt time.Time
		wantTokenType string
		wantIsErr     error
	}{
		{
			name:          "expires-in-3600",
			resp:          &TokenResponse{AccessToken: "AT1", TokenType: "Bearer", ExpiresIn: 3600},
			wantExpiresAt: now.Add(3600 * time.Second),
			wantTokenType: "Bearer",
		},
		{
			name:          "no-expiry",
			resp:          &TokenResponse{AccessToken: "AT1", TokenType: "DPoP"},
			wantTokenType: "DPoP",
		},
		{
			name:          "default-token-type",
			resp:          &TokenResponse{AccessToken: "AT1", ExpiresIn: 60},
			wantExpiresAt: now.Add(60 * time.Second),
			wantTokenType: "Bearer",
		},
		{
			name:      "missing-access-token",
			resp:      &TokenResponse{IdToken: "x.y.z", ExpiresIn: 60},
			wantIsErr: ErrMalformedResponse,
		},
		{
			name:      "negative-expires-in",
			resp:      &TokenResponse{AccessToken: "AT1", ExpiresIn: -1},
			wantIsErr: ErrMalformedResponse,
		},
		{
			name:      "nil",
			wantIsErr: ErrNilParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewTokenSet(tt.resp, now)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			assert.Equal(AccessToken(tt.resp.AccessToken), got.AccessToken())
			assert.Equal(tt.wantTokenType, got.TokenType())
			assert.True(tt.wantExpiresAt.Equal(got.ExpiresAt()), "ExpiresAt() = %s, want %s", got.ExpiresAt(), tt.wantExpiresAt)
			assert.Equal(time.Duration(tt.resp.ExpiresIn)*time.Second, got.ExpiresIn())
			assert.Equal(now, got.IssuedAt())
		})
	}
}

func TestTokenResponse_Unmarshal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		want    TokenResponse
		wantErr bool
	}{
		{
			name: "all-fields",
			body: `{"access_token":"AT1","token_type":"Bearer","expires_in":60,"id_token":"a.b.c","refresh_token":"RT1","scope":"openid email","session_state":"ss"}`,
			want: TokenResponse{AccessToken: "AT1", TokenType: "Bearer", ExpiresIn: 60, IdToken: "a.b.c", RefreshToken: "RT1", Scope: "openid email", SessionState: "ss"},
		},
		{
			name: "string-expires-in",
			body: `{"access_token":"AT1","expires_in":"3600"}`,
			want: TokenResponse{AccessToken: "AT1", ExpiresIn: 3600},
		},
		{
			name: "null-expires-in",
			body: `{"access_token":"AT1","expires_in":null}`,
			want: TokenResponse{AccessToken: "AT1"},
		},
		{
			name: "integral-float-expires-in",
			body: `{"access_token":"AT1","expires_in":3600.0}`,
			want: TokenResponse{AccessToken: "AT1", ExpiresIn: 3600},
		},
		{
			name: "exponent-expires-in",
			body: `{"access_token":"AT1","expires_in":"3.6e3"}`,
			want: TokenResponse{AccessToken: "AT1", ExpiresIn: 3600},
		},
		{
			name:    "fractional-expires-in",
			body:    `{"access_token":"AT1","expires_in":3600.5}`,
			wantErr: true,
		},
		{
			name:    "bad-expires-in",
			body:    `{"access_token":"AT1","expires_in":"soon"}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			var got TokenResponse
			err := json.Unmarshal([]byte(tt.body), &got)
			if tt.wantErr {
				require.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestTokenSet_Expired(t *testing.T) {
	t.Parallel()
	now := time.Now()
	ts, err := NewTokenSet(&TokenResponse{AccessToken: "AT1", ExpiresIn: 60}, now)
	require.NoError(t, err)
	noExpiry, err := NewTokenSet(&TokenResponse{AccessToken: "AT1"}, now)
	require.NoError(t, err)

	assert := assert.New(t)
	assert.False(ts.Expired(now, 0))
	assert.False(ts.Expired(now.Add(49*time.Second), DefaultExpirySkew))
	assert.True(ts.Expired(now.Add(51*time.Second), DefaultExpirySkew))
	assert.True(ts.Expired(now.Add(61*time.Second), 0))
	assert.True(ts.Valid(now))
	assert.False(ts.Valid(now.Add(61 * time.Second)))

	assert.False(noExpiry.Expired(now.Add(24*time.Hour), 0))
	assert.True(noExpiry.Valid(now.Add(24 * time.Hour)))

	var nilSet *TokenSet
	assert.True(nilSet.Expired(now, 0))
	assert.False(nilSet.Valid(now))
}

func TestTokenSet_Token(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	now := time.Now()
	ts, err := NewTokenSet(&TokenResponse{
		AccessToken:  "AT1",
		TokenType:    "Bearer",
		ExpiresIn:    60,
		IdToken:      "a.b.c",
		RefreshToken: "RT1",
		SessionState: "ss",
	}, now)
	require.NoError(err)
	tk := ts.Token()
	assert.Equal("AT1", tk.AccessToken)
	assert.Equal("RT1", tk.RefreshToken)
	assert.Equal("Bearer", tk.Type())
	assert.True(now.Add(time.Minute).Equal(tk.Expiry))
	assert.Equal("a.b.c", tk.Extra("id_token"))
	assert.Equal("ss", tk.Extra("session_state"))
}

func TestTokenSet_WithPrevious(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	now := time.Now()
	prev, err := NewTokenSet(&TokenResponse{AccessToken: "AT1", IdToken: "a.b.c", RefreshToken: "RT1"}, now)
	require.NoError(err)

	refreshed, err := NewTokenSet(&TokenResponse{AccessToken: "AT2", ExpiresIn: 60}, now)
	require.NoError(err)
	got := refreshed.WithPrevious(prev)
	assert.NotSame(refreshed, got)
	assert.Equal(AccessToken("AT2"), got.AccessToken())
	assert.Equal(RefreshToken("RT1"), got.RefreshToken())
	assert.Equal(IdToken("a.b.c"), got.IdToken())
	assert.Empty(refreshed.RefreshToken(), "WithPrevious must not modify the receiver")

	rotated, err := NewTokenSet(&TokenResponse{AccessToken: "AT3", RefreshToken: "RT2"}, now)
	require.NoError(err)
	assert.Equal(RefreshToken("RT2"), rotated.WithPrevious(prev).RefreshToken())
	assert.Equal(AccessToken("AT3"), rotated.WithPrevious(nil).AccessToken())
}
