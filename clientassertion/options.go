// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"fmt"
	"time"
)

// Option configures the JWT
type Option func(*JWT) error

// reservedHeaders are set from NewJWT parameters and can't be overridden
var reservedHeaders = map[string]bool{
	"alg": true,
}

// WithKeyID sets the "kid" header that OIDC providers use to look up the
// public key to check the signed JWT
func WithKeyID(keyID string) Option {
	const op = "WithKeyID"
	return func(j *JWT) error {
		if keyID == "" {
			return fmt.Errorf("%s: %w: empty key id", op, ErrInvalidHeader)
		}
		j.headers["kid"] = keyID
		return nil
	}
}

// WithHeaders sets extra JWT headers, like "x5t".  The "alg" header can't be
// set this way.
func WithHeaders(h map[string]string) Option {
	const op = "WithHeaders"
	return func(j *JWT) error {
		for k, v := range h {
			if reservedHeaders[k] {
				return fmt.Errorf("%s: %w: %q is reserved", op, ErrInvalidHeader, k)
			}
			j.headers[k] = v
		}
		return nil
	}
}

// WithNow sets the clock used for the "iat" and "exp" claims.
func WithNow(now func() time.Time) Option {
	return func(j *JWT) error {
		j.now = now
		return nil
	}
}

// WithIDGenerator sets the function used to generate each "jti".
func WithIDGenerator(genID func() (string, error)) Option {
	return func(j *JWT) error {
		j.genID = genID
		return nil
	}
}
