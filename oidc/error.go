// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/hashicorp/capsession/clientassertion"
)

var (
	ErrInvalidParameter          = errors.New("invalid parameter")
	ErrNilParameter              = errors.New("nil parameter")
	ErrInvalidCACert             = errors.New("invalid CA certificate")
	ErrInvalidIssuer             = errors.New("invalid issuer")
	ErrIdGeneratorFailed         = errors.New("id generation failed")
	ErrExpiredRequest            = errors.New("authentication request is expired")
	ErrDiscoveryFailed           = errors.New("provider discovery failed")
	ErrMissingEndpoint           = errors.New("provider endpoint is missing")
	ErrInvalidEndpoint           = errors.New("provider endpoint is not an absolute URL")
	ErrNotResolved               = errors.New("provider metadata has not been resolved")
	ErrTransport                 = errors.New("unable to reach provider")
	ErrExchangeFailed            = errors.New("token exchange failed")
	ErrMalformedResponse         = errors.New("malformed token response")
	ErrMissingIdToken            = errors.New("id_token is missing")
	ErrClaimsDecode              = errors.New("unable to decode id_token claims")
	ErrIdTokenVerificationFailed = errors.New("id_token verification failed")
	ErrInvalidNonce              = errors.New("invalid nonce")
	ErrUserInfoFailed            = errors.New("user info failed")
	ErrUnsupportedAlg            = errors.New("unsupported signing algorithm")
)

// ExchangeError is returned when the token endpoint responds with a non-2xx
// status.  The body is kept verbatim as opaque diagnostic text; ErrorCode and
// Description are only populated when the body is an RFC 6749 section 5.2
// JSON error.
type ExchangeError struct {
	StatusCode  int
	Body        string
	ErrorCode   string
	Description string
}

// Error implements the error interface.
func (e *ExchangeError) Error() string {
	switch {
	case e.ErrorCode != "" && e.Description != "":
		return fmt.Sprintf("%s: %d %s: %s", ErrExchangeFailed, e.StatusCode, e.ErrorCode, e.Description)
	case e.ErrorCode != "":
		return fmt.Sprintf("%s: %d %s", ErrExchangeFailed, e.StatusCode, e.ErrorCode)
	default:
		return fmt.Sprintf("%s: %d - %s", ErrExchangeFailed, e.StatusCode, e.Body)
	}
}

// Unwrap allows errors.Is(err, ErrExchangeFailed)
func (e *ExchangeError) Unwrap() error { return ErrExchangeFailed }

// ErrorClass is a coarse classification of an error for operators.
type ErrorClass string

const (
	// NetworkClass: the provider couldn't be reached (dns, tls, timeout).
	NetworkClass ErrorClass = "network"
	// ProtocolClass: the provider answered but rejected or garbled the
	// exchange (invalid assertion, invalid grant, malformed response).
	ProtocolClass ErrorClass = "protocol"
	// ConfigurationClass: local key, algorithm or parameter problems.
	ConfigurationClass ErrorClass = "configuration"
	// InternalClass is everything else.
	InternalClass ErrorClass = "internal"
)

// Classify returns the ErrorClass for err.
func Classify(err error) ErrorClass {
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransport),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return NetworkClass
	case errors.Is(err, ErrExchangeFailed),
		errors.Is(err, ErrMalformedResponse),
		errors.Is(err, ErrMissingIdToken),
		errors.Is(err, ErrIdTokenVerificationFailed),
		errors.Is(err, ErrInvalidNonce),
		errors.Is(err, ErrDiscoveryFailed),
		errors.Is(err, ErrUserInfoFailed),
		errors.Is(err, ErrExpiredRequest):
		return ProtocolClass
	case errors.Is(err, clientassertion.ErrInvalidKeyFormat),
		errors.Is(err, clientassertion.ErrUnsupportedAlgorithm),
		errors.Is(err, clientassertion.ErrInvalidAudience),
		errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrNilParameter),
		errors.Is(err, ErrInvalidCACert),
		errors.Is(err, ErrMissingEndpoint),
		errors.Is(err, ErrInvalidEndpoint):
		return ConfigurationClass
	default:
		return InternalClass
	}
}
