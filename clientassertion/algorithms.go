// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
)

// Algorithm is an asymmetric JOSE signature algorithm.
type Algorithm string

// JOSE asymmetric signing algorithm values as defined by RFC 7518.
// See: https://tools.ietf.org/html/rfc7518#section-3.1
const (
	RS256 Algorithm = "RS256" // RSASSA-PKCS-v1.5 using SHA-256
	RS384 Algorithm = "RS384" // RSASSA-PKCS-v1.5 using SHA-384
	RS512 Algorithm = "RS512" // RSASSA-PKCS-v1.5 using SHA-512
	PS256 Algorithm = "PS256" // RSASSA-PSS using SHA256 and MGF1-SHA256
	PS384 Algorithm = "PS384" // RSASSA-PSS using SHA384 and MGF1-SHA384
	PS512 Algorithm = "PS512" // RSASSA-PSS using SHA512 and MGF1-SHA512
	ES256 Algorithm = "ES256" // ECDSA using P-256 and SHA-256
	ES384 Algorithm = "ES384" // ECDSA using P-384 and SHA-384
	ES512 Algorithm = "ES512" // ECDSA using P-521 and SHA-512
	EdDSA Algorithm = "EdDSA" // Ed25519 using SHA-512
)

var supportedAlgorithms = map[Algorithm]bool{
	RS256: true,
	RS384: true,
	RS512: true,
	PS256: true,
	PS384: true,
	PS512: true,
	ES256: true,
	ES384: true,
	ES512: true,
	EdDSA: true,
}

// SupportedAlgorithms returns the algorithms a JWT can be signed with.
func SupportedAlgorithms() []Algorithm {
	return []Algorithm{RS256, RS384, RS512, PS256, PS384, PS512, ES256, ES384, ES512, EdDSA}
}

// Supported reports whether the algorithm can be used to sign assertions.
func (a Algorithm) Supported() bool {
	return supportedAlgorithms[a]
}

// Validate checks that the algorithm is supported and that key is a private
// key of the matching type (and curve, for ECDSA).  RSA keys are also checked
// with rsa.PrivateKey's Validate() method.
func (a Algorithm) Validate(key crypto.PrivateKey) error {
	const op = "Algorithm.Validate"
	if !a.Supported() {
		return fmt.Errorf("%s: %w %q", op, ErrUnsupportedAlgorithm, a)
	}
	if key == nil {
		return fmt.Errorf("%s: %w", op, ErrMissingKey)
	}
	switch a {
	case RS256, RS384, RS512, PS256, PS384, PS512:
		k, ok := key.(*rsa.PrivateKey)
		if !ok {
			return fmt.Errorf("%s: %w: %q requires an RSA key, got %T", op, ErrInvalidKeyFormat, a, key)
		}
		if err := k.Validate(); err != nil {
			return fmt.Errorf("%s: %w: %w", op, ErrInvalidKeyFormat, err)
		}
	case ES256, ES384, ES512:
		k, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return fmt.Errorf("%s: %w: %q requires an ECDSA key, got %T", op, ErrInvalidKeyFormat, a, key)
		}
		if want := curveFor(a); k.Curve != want {
			return fmt.Errorf("%s: %w: %q requires curve %s", op, ErrInvalidKeyFormat, a, want.Params().Name)
		}
	case EdDSA:
		if _, ok := key.(ed25519.PrivateKey); !ok {
			return fmt.Errorf("%s: %w: %q requires an Ed25519 key, got %T", op, ErrInvalidKeyFormat, a, key)
		}
	}
	return nil
}

func curveFor(a Algorithm) elliptic.Curve {
	switch a {
	case ES384:
		return elliptic.P384()
	case ES512:
		return elliptic.P521()
	default:
		return elliptic.P256()
	}
}
