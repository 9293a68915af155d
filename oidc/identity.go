// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/capsession/clientassertion"
)

// PrivateKeyPEM is PEM encoded private key material.
type PrivateKeyPEM string

// RedactedPrivateKey is the redacted string or json for private key material
const RedactedPrivateKey = "[REDACTED: private key]"

// String will redact the key
func (k PrivateKeyPEM) String() string {
	return RedactedPrivateKey
}

// MarshalJSON will redact the key
func (k PrivateKeyPEM) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedPrivateKey)
}

// ClientIdentity is the immutable identity a private_key_jwt client presents
// to the provider.  It's created once from configuration and shared read-only
// by every component; none of them mutate it.
type ClientIdentity struct {
	clientID    string
	redirectURL string
	key         crypto.PrivateKey
	keyID       string
	alg         clientassertion.Algorithm
}

// NewClientIdentity creates a ClientIdentity.  The key must be compatible
// with alg (see clientassertion.Algorithm.Validate).  keyID is optional and
// becomes the assertion's "kid" header when set.
func NewClientIdentity(clientID, redirectURL string, alg clientassertion.Algorithm, key crypto.PrivateKey, keyID string) (*ClientIdentity, error) {
	const op = "oidc.NewClientIdentity"
	if clientID == "" {
		return nil, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if redirectURL == "" {
		return nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	if err := alg.Validate(key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &ClientIdentity{
		clientID:    clientID,
		redirectURL: redirectURL,
		key:         key,
		keyID:       keyID,
		alg:         alg,
	}, nil
}

// NewClientIdentityFromPEM is NewClientIdentity for PEM encoded key material.
// Key material without a private key marker fails with
// clientassertion.ErrInvalidKeyFormat.
func NewClientIdentityFromPEM(clientID, redirectURL string, alg clientassertion.Algorithm, keyPEM PrivateKeyPEM, keyID string) (*ClientIdentity, error) {
	const op = "oidc.NewClientIdentityFromPEM"
	key, err := clientassertion.ParsePrivateKeyPEM(string(keyPEM))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := NewClientIdentity(clientID, redirectURL, alg, key, keyID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

func (c *ClientIdentity) ClientID() string                     { return c.clientID }
func (c *ClientIdentity) RedirectURL() string                  { return c.redirectURL }
func (c *ClientIdentity) KeyID() string                        { return c.keyID }
func (c *ClientIdentity) Algorithm() clientassertion.Algorithm { return c.alg }

// Assertion creates a client assertion JWT for the audience, which must be
// the canonical token endpoint.  The returned JWT mints a new assertion on
// every Serialize().
func (c *ClientIdentity) Assertion(audience string, opt ...clientassertion.Option) (*clientassertion.JWT, error) {
	const op = "ClientIdentity.Assertion"
	opts := make([]clientassertion.Option, 0, len(opt)+1)
	if c.keyID != "" {
		opts = append(opts, clientassertion.WithKeyID(c.keyID))
	}
	opts = append(opts, opt...)
	j, err := clientassertion.NewJWT(c.clientID, audience, c.alg, c.key, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return j, nil
}
