// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hashicorp/capsession/clientassertion"
	"github.com/stretchr/testify/assert"
)

func TestExchangeError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  *ExchangeError
		want string
	}{
		{
			name: "opaque",
			err:  &ExchangeError{StatusCode: 500, Body: "boom"},
			want: "token exchange failed: 500 - boom",
		},
		{
			name: "code",
			err:  &ExchangeError{StatusCode: 401, Body: `{"error":"invalid_client"}`, ErrorCode: "invalid_client"},
			want: "token exchange failed: 401 invalid_client",
		},
		{
			name: "code-and-description",
			err:  &ExchangeError{StatusCode: 400, ErrorCode: "invalid_grant", Description: "code expired"},
			want: "token exchange failed: 400 invalid_grant: code expired",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			assert.Equal(tt.want, tt.err.Error())
			wrapped := fmt.Errorf("op: %w", tt.err)
			assert.ErrorIs(wrapped, ErrExchangeFailed)
			var got *ExchangeError
			assert.True(errors.As(wrapped, &got))
			assert.Equal(tt.err.StatusCode, got.StatusCode)
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ""},
		{"transport", fmt.Errorf("op: %w: dial tcp", ErrTransport), NetworkClass},
		{"deadline", fmt.Errorf("op: %w", context.DeadlineExceeded), NetworkClass},
		{"exchange", fmt.Errorf("op: %w", &ExchangeError{StatusCode: 401}), ProtocolClass},
		{"malformed", fmt.Errorf("op: %w", ErrMalformedResponse), ProtocolClass},
		{"discovery", ErrDiscoveryFailed, ProtocolClass},
		{"verification", ErrIdTokenVerificationFailed, ProtocolClass},
		{"key", fmt.Errorf("op: %w", clientassertion.ErrInvalidKeyFormat), ConfigurationClass},
		{"alg", clientassertion.ErrUnsupportedAlgorithm, ConfigurationClass},
		{"param", ErrInvalidParameter, ConfigurationClass},
		{"endpoint", ErrMissingEndpoint, ConfigurationClass},
		{"other", errors.New("something else"), InternalClass},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
