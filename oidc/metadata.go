// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// AuthMethodPrivateKeyJWT is the token_endpoint_auth_methods_supported value
// for client assertion authentication.
const AuthMethodPrivateKeyJWT = "private_key_jwt"

// ProviderMetadata are the provider endpoints used by a session.  Once
// resolved, every required endpoint is an absolute URL; EndSessionEndpoint is
// optional.
type ProviderMetadata struct {
	Issuer                string `json:"issuer" yaml:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint" yaml:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint" yaml:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint" yaml:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri" yaml:"jwks_uri"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty" yaml:"end_session_endpoint"`

	// informational, only populated by discovery
	TokenEndpointAuthMethods     []string `json:"token_endpoint_auth_methods_supported,omitempty" yaml:"-"`
	TokenEndpointAuthSigningAlgs []string `json:"token_endpoint_auth_signing_alg_values_supported,omitempty" yaml:"-"`
	IdTokenSigningAlgs           []string `json:"id_token_signing_alg_values_supported,omitempty" yaml:"-"`
}

// Validate verifies the required endpoints are present and absolute.
func (m *ProviderMetadata) Validate() error {
	const op = "ProviderMetadata.Validate"
	if m == nil {
		return fmt.Errorf("%s: metadata is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	required := []struct {
		name  string
		value string
	}{
		{"issuer", m.Issuer},
		{"authorization_endpoint", m.AuthorizationEndpoint},
		{"token_endpoint", m.TokenEndpoint},
		{"userinfo_endpoint", m.UserinfoEndpoint},
		{"jwks_uri", m.JWKSURI},
	}
	for _, r := range required {
		switch {
		case r.value == "":
			result = multierror.Append(result, fmt.Errorf("%s: %w", r.name, ErrMissingEndpoint))
		case !isAbsoluteHTTPURL(r.value):
			result = multierror.Append(result, fmt.Errorf("%s %q: %w", r.name, r.value, ErrInvalidEndpoint))
		}
	}
	if m.EndSessionEndpoint != "" && !isAbsoluteHTTPURL(m.EndSessionEndpoint) {
		result = multierror.Append(result, fmt.Errorf("end_session_endpoint %q: %w", m.EndSessionEndpoint, ErrInvalidEndpoint))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SupportsPrivateKeyJWT reports whether the provider advertises
// private_key_jwt.  Providers that don't publish
// token_endpoint_auth_methods_supported are assumed to support it.
func (m *ProviderMetadata) SupportsPrivateKeyJWT() bool {
	if len(m.TokenEndpointAuthMethods) == 0 {
		return true
	}
	for _, am := range m.TokenEndpointAuthMethods {
		if am == AuthMethodPrivateKeyJWT {
			return true
		}
	}
	return false
}

// Copy returns a deep copy of the metadata.
func (m *ProviderMetadata) Copy() *ProviderMetadata {
	if m == nil {
		return nil
	}
	cp := *m
	cp.TokenEndpointAuthMethods = append([]string(nil), m.TokenEndpointAuthMethods...)
	cp.TokenEndpointAuthSigningAlgs = append([]string(nil), m.TokenEndpointAuthSigningAlgs...)
	cp.IdTokenSigningAlgs = append([]string(nil), m.IdTokenSigningAlgs...)
	return &cp
}
