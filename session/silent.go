// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import "context"

// SilentAuthorizer performs an authorization round trip without user
// interaction.  authURL already carries prompt=none; the implementation
// returns the state and code of the authorization response.
type SilentAuthorizer interface {
	Authorize(ctx context.Context, authURL string) (state, code string, err error)
}

// SilentAuthorizerFunc adapts a func to a SilentAuthorizer.
type SilentAuthorizerFunc func(ctx context.Context, authURL string) (state, code string, err error)

// Authorize calls f.
func (f SilentAuthorizerFunc) Authorize(ctx context.Context, authURL string) (string, string, error) {
	return f(ctx, authURL)
}
