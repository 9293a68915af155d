// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// MetadataResolver resolves a provider's metadata once, from either static
// configuration or the issuer's discovery document.  Once resolved, the
// metadata is read-only and shared by every component of the session.
//
// The resolver also owns the provider integration that depends on resolved
// metadata: UserInfo requests and id_token verification.
type MetadataResolver struct {
	config *Config
	client *http.Client
	logger hclog.Logger
	now    func() time.Time

	mu       sync.Mutex
	resolved bool
	metadata *ProviderMetadata
	provider *oidc.Provider
	err      error
}

// NewMetadataResolver creates a resolver for the config.  No requests are made
// until Resolve is called.
//
// Supported options:
//   - WithHTTPClient
//   - WithLogger
//   - WithNow
func NewMetadataResolver(c *Config, opt ...Option) (*MetadataResolver, error) {
	const op = "NewMetadataResolver"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	opts := getResolverOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = c.HTTPClient(); err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}
	return &MetadataResolver{
		config: c,
		client: client,
		logger: opts.withLogger.Named("metadata"),
		now:    opts.withNow,
	}, nil
}

// Resolve returns the provider's metadata.  The first call resolves it; later
// calls return the same result (including a failure) until Reresolve.
func (r *MetadataResolver) Resolve(ctx context.Context) (*ProviderMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.resolved {
		r.resolveLocked(ctx)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.metadata.Copy(), nil
}

// Reresolve discards the current result and resolves the metadata again.
func (r *MetadataResolver) Reresolve(ctx context.Context) (*ProviderMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolveLocked(ctx)
	if r.err != nil {
		return nil, r.err
	}
	return r.metadata.Copy(), nil
}

// Metadata returns the resolved metadata without making any requests.
func (r *MetadataResolver) Metadata() (*ProviderMetadata, error) {
	const op = "MetadataResolver.Metadata"
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case !r.resolved:
		return nil, fmt.Errorf("%s: %w", op, ErrNotResolved)
	case r.err != nil:
		return nil, r.err
	}
	return r.metadata.Copy(), nil
}

// HTTPClient returns the client used for provider requests.
func (r *MetadataResolver) HTTPClient() *http.Client { return r.client }

// resolveLocked leaves the resolver either fully resolved or in an error
// state, never a mix of both.
func (r *MetadataResolver) resolveLocked(ctx context.Context) {
	const op = "MetadataResolver.Resolve"
	r.resolved = true
	r.metadata, r.provider, r.err = nil, nil, nil

	static := r.config.StaticMetadata
	if static != nil && !r.config.PreferDiscovery {
		r.logger.Debug("using static provider metadata", "issuer", static.Issuer)
		r.metadata, r.provider = static.Copy(), r.staticProvider(ctx, static)
		return
	}

	md, p, err := r.discover(ctx)
	switch {
	case err == nil:
		r.metadata, r.provider = md, p
	case static != nil:
		r.logger.Warn("discovery failed, falling back to static provider metadata", "issuer", r.config.Issuer, "error", err)
		r.metadata, r.provider = static.Copy(), r.staticProvider(ctx, static)
	default:
		r.err = fmt.Errorf("%s: %w", op, err)
		return
	}
	if !r.metadata.SupportsPrivateKeyJWT() {
		r.logger.Warn("provider does not advertise private_key_jwt client authentication",
			"issuer", r.metadata.Issuer, "supported", r.metadata.TokenEndpointAuthMethods)
	}
}

func (r *MetadataResolver) discover(ctx context.Context) (*ProviderMetadata, *oidc.Provider, error) {
	const op = "MetadataResolver.discover"
	r.logger.Debug("discovering provider metadata", "issuer", r.config.Issuer)
	p, err := oidc.NewProvider(HTTPClientContext(ctx, r.client), r.config.Issuer) // makes http req to issuer for discovery
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w: %w", op, ErrDiscoveryFailed, err)
	}
	var md ProviderMetadata
	if err := p.Claims(&md); err != nil {
		return nil, nil, fmt.Errorf("%s: %w: unable to decode discovery document: %w", op, ErrDiscoveryFailed, err)
	}
	if err := md.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w: incomplete discovery document: %w", op, ErrDiscoveryFailed, err)
	}
	return &md, p, nil
}

func (r *MetadataResolver) staticProvider(ctx context.Context, md *ProviderMetadata) *oidc.Provider {
	pc := &oidc.ProviderConfig{
		IssuerURL:   md.Issuer,
		AuthURL:     md.AuthorizationEndpoint,
		TokenURL:    md.TokenEndpoint,
		UserInfoURL: md.UserinfoEndpoint,
		JWKSURL:     md.JWKSURI,
		Algorithms:  r.idTokenAlgs(),
	}
	return pc.NewProvider(HTTPClientContext(ctx, r.client))
}

func (r *MetadataResolver) idTokenAlgs() []string {
	if len(r.config.IdTokenSigningAlgs) > 0 {
		return r.config.IdTokenSigningAlgs
	}
	return []string{oidc.RS256}
}

func (r *MetadataResolver) resolvedProvider() (*oidc.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case !r.resolved:
		return nil, ErrNotResolved
	case r.err != nil:
		return nil, r.err
	}
	return r.provider, nil
}

// UserInfo gets the UserInfo claims from the provider using the access token.
func (r *MetadataResolver) UserInfo(ctx context.Context, t AccessToken) (map[string]interface{}, error) {
	const op = "MetadataResolver.UserInfo"
	if t == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	p, err := r.resolvedProvider()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: string(t), TokenType: "Bearer"})
	userinfo, err := p.UserInfo(HTTPClientContext(ctx, r.client), ts)
	if err != nil {
		if isTransportError(err) {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUserInfoFailed, err)
	}
	claims := map[string]interface{}{}
	if err := userinfo.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: %w: failed to get UserInfo claims: %w", op, ErrUserInfoFailed, err)
	}
	return claims, nil
}

// VerifyIdToken will verify the inbound IdToken.  It verifies it's been signed
// by the provider, it validates the nonce (when not empty), and checks the
// issuer, audience and expiry.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (r *MetadataResolver) VerifyIdToken(ctx context.Context, t IdToken, nonce string) error {
	const op = "MetadataResolver.VerifyIdToken"
	if t == "" {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	p, err := r.resolvedProvider()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	verifier := p.Verifier(&oidc.Config{
		ClientID:             r.config.ClientID,
		SupportedSigningAlgs: r.idTokenAlgs(),
		Now:                  r.now,
	})
	idToken, err := verifier.Verify(HTTPClientContext(ctx, r.client), string(t))
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrIdTokenVerificationFailed, err)
	}
	if nonce != "" && idToken.Nonce != nonce {
		return fmt.Errorf("%s: %w: %w", op, ErrIdTokenVerificationFailed, ErrInvalidNonce)
	}
	return nil
}

func isTransportError(err error) bool {
	return Classify(err) == NetworkClass
}

// resolverOptions is the set of available options for MetadataResolver
type resolverOptions struct {
	withHTTPClient *http.Client
	withLogger     hclog.Logger
	withNow        func() time.Time
}

func resolverDefaults() resolverOptions {
	return resolverOptions{
		withLogger: hclog.NewNullLogger(),
		withNow:    time.Now,
	}
}

func getResolverOpts(opt ...Option) resolverOptions {
	opts := resolverDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
