// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"crypto"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/capsession/clientassertion"
	"github.com/hashicorp/capsession/oidc"
	"github.com/stretchr/testify/require"
)

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testExchanger is a TokenExchanger with injectable results.
type testExchanger struct {
	mu            sync.Mutex
	exchange      func(ctx context.Context, code, verifier string) (*oidc.TokenSet, error)
	refresh       func(ctx context.Context, rt oidc.RefreshToken) (*oidc.TokenSet, error)
	exchangeCodes []string
	refreshTokens []oidc.RefreshToken
}

func (e *testExchanger) ExchangeAuthorizationCode(ctx context.Context, _ *oidc.ClientIdentity, _ *oidc.ProviderMetadata, code string, opt ...oidc.Option) (*oidc.TokenSet, error) {
	e.mu.Lock()
	e.exchangeCodes = append(e.exchangeCodes, code)
	fn := e.exchange
	e.mu.Unlock()
	if fn == nil {
		return nil, oidc.ErrExchangeFailed
	}
	return fn(ctx, code, "")
}

func (e *testExchanger) Refresh(ctx context.Context, _ *oidc.ClientIdentity, _ *oidc.ProviderMetadata, rt oidc.RefreshToken) (*oidc.TokenSet, error) {
	e.mu.Lock()
	e.refreshTokens = append(e.refreshTokens, rt)
	fn := e.refresh
	e.mu.Unlock()
	if fn == nil {
		return nil, oidc.ErrExchangeFailed
	}
	return fn(ctx, rt)
}

func (e *testExchanger) refreshCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.refreshTokens)
}

// testRecorder records every event.
type testRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *testRecorder) listen(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *testRecorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s []Status
	for _, e := range r.events {
		if e.Type == StateChanged {
			s = append(s, e.State.Status())
		}
	}
	return s
}

func (r *testRecorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func testMetadata() *oidc.ProviderMetadata {
	return &oidc.ProviderMetadata{
		Issuer:                "https://idp.example",
		AuthorizationEndpoint: "https://idp.example/authorize",
		TokenEndpoint:         "https://idp.example/token",
		UserinfoEndpoint:      "https://idp.example/userinfo",
		JWKSURI:               "https://idp.example/jwks",
		EndSessionEndpoint:    "https://idp.example/logout",
	}
}

func testIdentity(t *testing.T) (*oidc.ClientIdentity, crypto.PrivateKey) {
	t.Helper()
	_, priv := oidc.TestGenerateKeys(t)
	id, err := oidc.NewClientIdentity("c1", "http://localhost:8080/callback", clientassertion.ES256, priv, "kid-1")
	require.NoError(t, err)
	return id, priv
}

func testTokenSet(t *testing.T, r oidc.TokenResponse, issuedAt time.Time) *oidc.TokenSet {
	t.Helper()
	ts, err := oidc.NewTokenSet(&r, issuedAt)
	require.NoError(t, err)
	return ts
}

func testIdToken(t *testing.T, key crypto.PrivateKey, claims map[string]interface{}) string {
	t.Helper()
	return oidc.TestSignJWT(t, key, "ES256", claims, "")
}

// testLogin moves s to Pending and returns the pending request's state.
func testLogin(t *testing.T, s *Session) string {
	t.Helper()
	_, err := s.Login(context.Background())
	require.NoError(t, err)
	p, ok := s.State().(Pending)
	require.True(t, ok)
	return p.RequestID
}
