// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
)

// privateKeyMarker appears in every PEM private key block we accept:
// "PRIVATE KEY" (PKCS #8), "RSA PRIVATE KEY" (PKCS #1) and "EC PRIVATE KEY"
// (SEC 1).
const privateKeyMarker = "PRIVATE KEY-----"

// ParsePrivateKeyPEM parses a PEM encoded private key.  PKCS #8, PKCS #1 (RSA)
// and SEC 1 (EC) encodings are supported.  Key material without a recognizable
// private key marker returns ErrInvalidKeyFormat.
func ParsePrivateKeyPEM(keyPEM string) (crypto.PrivateKey, error) {
	const op = "ParsePrivateKeyPEM"
	trimmed := strings.TrimSpace(keyPEM)
	if trimmed == "" || !strings.Contains(trimmed, "-----BEGIN ") || !strings.Contains(trimmed, privateKeyMarker) {
		return nil, fmt.Errorf("%s: %w: missing BEGIN PRIVATE KEY marker", op, ErrInvalidKeyFormat)
	}
	block, _ := pem.Decode([]byte(trimmed))
	if block == nil {
		return nil, fmt.Errorf("%s: %w: unable to decode PEM block", op, ErrInvalidKeyFormat)
	}
	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidKeyFormat, err)
		}
		return key, nil
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidKeyFormat, err)
		}
		return key, nil
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidKeyFormat, err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%s: %w: unexpected PEM block type %q", op, ErrInvalidKeyFormat, block.Type)
	}
}

// PublicKey returns the public half of a private key returned by
// ParsePrivateKeyPEM.
func PublicKey(key crypto.PrivateKey) (crypto.PublicKey, error) {
	const op = "PublicKey"
	s, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %T is not a signer", op, ErrInvalidKeyFormat, key)
	}
	return s.Public(), nil
}
