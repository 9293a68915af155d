// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/capsession/clientassertion"
	"github.com/stretchr/testify/require"
)

// TestProvider is local server that supports test provider capabilities which
// make writing tests much easier.  It's a private_key_jwt provider: its
// /token endpoint authenticates clients with the client assertion signed by
// the key registered via SetClientCreds and rejects client secrets and
// replayed assertions.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks         *jose.JSONWebKeySet
	signingKey   *ecdsa.PrivateKey
	signingKeyID string

	mu                   sync.Mutex
	now                  func() time.Time
	clientID             string
	clientPublicKey      crypto.PublicKey
	clientAlg            clientassertion.Algorithm
	assertionAudience    string
	allowedRedirectURIs  []string
	expectedAuthCode     string
	expectedAuthNonce    string
	codeChallenge        string
	replySubject         string
	replyUserinfo        map[string]interface{}
	customClaims         map[string]interface{}
	expiresIn            int
	issueRefreshTokens   bool
	omitIDToken          bool
	disableUserInfo      bool
	disableEndSession    bool
	authMethods          []string
	tokenErrStatus       int
	tokenErrCode         string
	usedJTIs             map[string]struct{}
	issuedAccessTokens   map[string]struct{}
	issuedRefreshTokens  map[string]struct{}
	lastTokenRequest     url.Values
	tokenRequestCount    int
	tokenCounter         int
	rejectedAssertionErr error
}

// StartTestProvider creates a disposable TestProvider.  It's stopped when the
// test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		now: time.Now,
		allowedRedirectURIs: []string{
			"https://example.com",
		},
		replySubject: "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients",
		replyUserinfo: map[string]interface{}{
			"color":       "red",
			"temperature": "76",
			"flavor":      "umami",
		},
		expiresIn:           3600,
		issueRefreshTokens:  true,
		authMethods:         []string{AuthMethodPrivateKeyJWT},
		usedJTIs:            map[string]struct{}{},
		issuedAccessTokens:  map[string]struct{}{},
		issuedRefreshTokens: map[string]struct{}{},
		signingKeyID:        "test-provider-key",
	}
	_, priv := TestGenerateKeys(t)
	p.signingKey = priv.(*ecdsa.PrivateKey)
	p.jwks = &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       &p.signingKey.PublicKey,
				KeyID:     p.signingKeyID,
				Algorithm: string(jose.ES256),
				Use:       "sig",
			},
		},
	}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// SetClientCreds registers the client id and the public key (and algorithm)
// its assertions are verified with.
func (p *TestProvider) SetClientCreds(clientID string, pub crypto.PublicKey, alg clientassertion.Algorithm) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientPublicKey = pub
	p.clientAlg = alg
}

// SetAssertionAudience sets the audience required of client assertions.  It
// defaults to the /token endpoint.
func (p *TestProvider) SetAssertionAudience(aud string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assertionAudience = aud
}

// SetExpectedAuthCode configures the auth code to return from /auth and the
// allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedAuthNonce configures the nonce value required for /auth and
// returned in id_tokens.
func (p *TestProvider) SetExpectedAuthNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthNonce = nonce
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs for
// the OIDC workflow. If not configured a sample of "https://example.com" is
// used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetSubject sets the "sub" of issued id_tokens and userinfo responses.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetCustomClaims lets you set claims to return in the id_tokens issued.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetUserInfoReply sets the /userinfo claims (sub is always added).
func (p *TestProvider) SetUserInfoReply(reply map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = reply
}

// SetExpiresIn sets the expires_in of issued tokens.  Zero omits it.
func (p *TestProvider) SetExpiresIn(seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = seconds
}

// SetIssueRefreshTokens controls whether refresh tokens are issued.
func (p *TestProvider) SetIssueRefreshTokens(issue bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issueRefreshTokens = issue
}

// SetTokenEndpointAuthMethods sets the advertised
// token_endpoint_auth_methods_supported.
func (p *TestProvider) SetTokenEndpointAuthMethods(methods ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authMethods = methods
}

// SetTokenError makes /token fail with the status and oauth error code until
// it's called with a zero status.
func (p *TestProvider) SetTokenError(status int, code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenErrStatus = status
	p.tokenErrCode = code
}

// SetNowFunc sets the provider's clock.
func (p *TestProvider) SetNowFunc(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// OmitIDTokens forces /token to not return an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from the
// discovery config.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// DisableEndSession omits the end_session_endpoint from the discovery config.
func (p *TestProvider) DisableEndSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableEndSession = true
}

// LastTokenRequest returns the form of the last /token request.
func (p *TestProvider) LastTokenRequest() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenRequest
}

// TokenRequestCount returns the number of /token requests received.
func (p *TestProvider) TokenRequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequestCount
}

// LastAssertionError returns why the last rejected client assertion was
// rejected.
func (p *TestProvider) LastAssertionError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rejectedAssertionErr
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns a client which trusts the test provider.
func (p *TestProvider) HTTPClient() *http.Client { return p.httpServer.Client() }

// SigningKey returns the test provider's id_token signing key and its key id.
func (p *TestProvider) SigningKey() (*ecdsa.PrivateKey, string) {
	return p.signingKey, p.signingKeyID
}

// Metadata returns the test provider's endpoints.
func (p *TestProvider) Metadata() *ProviderMetadata {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metadata()
}

func (p *TestProvider) metadata() *ProviderMetadata {
	md := &ProviderMetadata{
		Issuer:                       p.Addr(),
		AuthorizationEndpoint:        p.Addr() + "/auth",
		TokenEndpoint:                p.Addr() + "/token",
		UserinfoEndpoint:             p.Addr() + "/userinfo",
		JWKSURI:                      p.Addr() + "/certs",
		EndSessionEndpoint:           p.Addr() + "/logout",
		TokenEndpointAuthMethods:     p.authMethods,
		TokenEndpointAuthSigningAlgs: []string{string(p.clientAlg)},
		IdTokenSigningAlgs:           []string{string(jose.ES256)},
	}
	if p.disableUserInfo {
		md.UserinfoEndpoint = ""
	}
	if p.disableEndSession {
		md.EndSessionEndpoint = ""
	}
	return md
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.metadata())

	case "/auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.handleAuth(w, req)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.handleToken(w, req)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		at := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if _, ok := p.issuedAccessTokens[at]; !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		reply := map[string]interface{}{"sub": p.replySubject}
		for k, v := range p.replyUserinfo {
			reply[k] = v
		}
		_ = p.writeJSON(w, reply)

	case "/logout":
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) handleAuth(w http.ResponseWriter, req *http.Request) {
	qv := req.URL.Query()

	if qv.Get("response_type") != "code" {
		p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
		return
	}
	if !containsString(strings.Fields(qv.Get("scope")), ScopeOpenID) {
		p.writeAuthErrorResponse(w, req, "invalid_scope", "")
		return
	}
	if qv.Get("client_id") != p.clientID {
		p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
		return
	}
	if qv.Get("prompt") == "none" && p.expectedAuthCode == "" {
		p.writeAuthErrorResponse(w, req, "login_required", "")
		return
	}
	if p.expectedAuthCode == "" {
		p.writeAuthErrorResponse(w, req, "access_denied", "")
		return
	}

	nonce := qv.Get("nonce")
	if p.expectedAuthNonce != "" && p.expectedAuthNonce != nonce {
		p.writeAuthErrorResponse(w, req, "access_denied", "")
		return
	}
	p.expectedAuthNonce = nonce

	if qv.Get("code_challenge") != "" && qv.Get("code_challenge_method") != "S256" {
		p.writeAuthErrorResponse(w, req, "invalid_request", "unsupported code_challenge_method")
		return
	}
	p.codeChallenge = qv.Get("code_challenge")

	state := qv.Get("state")
	if state == "" {
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
		return
	}

	redirectURI := qv.Get("redirect_uri")
	if redirectURI == "" {
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
		return
	}

	redirectURI += "?state=" + url.QueryEscape(state) +
		"&code=" + url.QueryEscape(p.expectedAuthCode)

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	p.tokenRequestCount++
	if err := req.ParseForm(); err != nil {
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "unable to parse form")
		return
	}
	p.lastTokenRequest = req.PostForm

	switch {
	case req.PostForm.Has("client_secret"):
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "client_secret is not accepted")
		return
	case req.PostForm.Get("client_assertion_type") != clientassertion.JWTTypeParam:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad client_assertion_type")
		return
	}
	if err := p.verifyAssertion(req.PostForm.Get("client_assertion")); err != nil {
		p.rejectedAssertionErr = err
		_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", err.Error())
		return
	}
	if p.tokenErrStatus != 0 {
		_ = p.writeTokenErrorResponse(w, p.tokenErrStatus, p.tokenErrCode, "")
		return
	}

	switch req.PostForm.Get("grant_type") {
	case GrantTypeAuthorizationCode:
		switch {
		case !containsString(p.allowedRedirectURIs, req.PostForm.Get("redirect_uri")):
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		case p.expectedAuthCode == "" || req.PostForm.Get("code") != p.expectedAuthCode:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
			return
		case p.codeChallenge != "" && s256(req.PostForm.Get("code_verifier")) != p.codeChallenge:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code_verifier mismatch")
			return
		}
	case GrantTypeRefreshToken:
		rt := req.PostForm.Get("refresh_token")
		if _, ok := p.issuedRefreshTokens[rt]; !ok {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unknown refresh_token")
			return
		}
		delete(p.issuedRefreshTokens, rt)
	default:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}

	p.tokenCounter++
	now := p.now()
	reply := struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in,omitempty"`
		IDToken      string `json:"id_token,omitempty"`
		RefreshToken string `json:"refresh_token,omitempty"`
		Scope        string `json:"scope,omitempty"`
	}{
		AccessToken: fmt.Sprintf("at_%d_%d", p.tokenCounter, now.UnixNano()),
		TokenType:   "Bearer",
		ExpiresIn:   p.expiresIn,
		Scope:       ScopeOpenID,
	}
	p.issuedAccessTokens[reply.AccessToken] = struct{}{}
	if p.issueRefreshTokens {
		reply.RefreshToken = fmt.Sprintf("rt_%d_%d", p.tokenCounter, now.UnixNano())
		p.issuedRefreshTokens[reply.RefreshToken] = struct{}{}
	}
	if !p.omitIDToken {
		idToken, err := p.signIdToken(now)
		if err != nil {
			_ = p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		reply.IDToken = idToken
	}
	_ = p.writeJSON(w, &reply)
}

func (p *TestProvider) signIdToken(now time.Time) (string, error) {
	exp := now.Add(time.Duration(p.expiresIn) * time.Second)
	if p.expiresIn == 0 {
		exp = now.Add(time.Hour)
	}
	claims := map[string]interface{}{
		"sub": p.replySubject,
		"iss": p.Addr(),
		"aud": p.clientID,
		"iat": now.Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
		"exp": exp.Unix(),
	}
	if p.expectedAuthNonce != "" {
		claims["nonce"] = p.expectedAuthNonce
	}
	for k, v := range p.customClaims {
		claims[k] = v
	}
	return testSignJWT(p.signingKey, string(jose.ES256), claims, p.signingKeyID)
}

// verifyAssertion checks the client assertion is signed by the registered
// key, has exactly the required claims, the expected audience, a five minute
// lifetime and a jti which hasn't been seen before.
func (p *TestProvider) verifyAssertion(raw string) error {
	if raw == "" {
		return fmt.Errorf("client_assertion is missing")
	}
	if p.clientPublicKey == nil {
		return fmt.Errorf("no client credentials registered")
	}
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.SignatureAlgorithm(p.clientAlg)})
	if err != nil {
		return fmt.Errorf("unable to parse client_assertion: %w", err)
	}
	var c jwt.Claims
	all := map[string]interface{}{}
	if err := tok.Claims(p.clientPublicKey, &c, &all); err != nil {
		return fmt.Errorf("client_assertion signature: %w", err)
	}
	if len(all) != 6 {
		return fmt.Errorf("client_assertion has %d claims", len(all))
	}
	for _, k := range []string{"iss", "sub", "aud", "iat", "exp", "jti"} {
		if _, ok := all[k]; !ok {
			return fmt.Errorf("client_assertion is missing %q", k)
		}
	}
	aud := p.assertionAudience
	if aud == "" {
		aud = p.Addr() + "/token"
	}
	switch {
	case c.Issuer != p.clientID || c.Subject != p.clientID:
		return fmt.Errorf("client_assertion iss/sub is not the client id")
	case !c.Audience.Contains(aud):
		return fmt.Errorf("client_assertion aud %v is not %q", c.Audience, aud)
	case c.Expiry == nil || c.IssuedAt == nil || c.Expiry.Time().Sub(c.IssuedAt.Time()) != clientassertion.Lifetime:
		return fmt.Errorf("client_assertion lifetime is not %s", clientassertion.Lifetime)
	case c.Expiry.Time().Before(p.now()):
		return fmt.Errorf("client_assertion is expired")
	}
	if _, used := p.usedJTIs[c.ID]; used {
		return fmt.Errorf("client_assertion jti %q was already used", c.ID)
	}
	p.usedJTIs[c.ID] = struct{}{}
	return nil
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
