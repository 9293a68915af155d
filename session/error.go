// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrStateMismatch     = errors.New("callback state does not match the pending authorization request")
	ErrClosed            = errors.New("session is closed")
	ErrNoRefreshToken    = errors.New("no refresh token and no silent authorizer")
	ErrNotAuthenticated  = errors.New("session is not authenticated")
	ErrUserInfoDisabled  = errors.New("userinfo is not configured")
	ErrProviderError     = errors.New("provider returned an authorization error")
)
