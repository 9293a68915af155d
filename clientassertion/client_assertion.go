// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-uuid"
)

const (
	// JWTTypeParam is the proper value for client_assertion_type.
	// https://www.rfc-editor.org/rfc/rfc7523.html#section-2.2
	JWTTypeParam = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	// Lifetime is the fixed validity window of every assertion: exp = iat +
	// Lifetime.
	Lifetime = 5 * time.Minute
)

// Assertion is a serialized client assertion JWT.  It's a bearer credential
// for the token endpoint, so it's redacted when printed or marshaled.
type Assertion string

// RedactedAssertion is the redacted string or json for a client assertion
const RedactedAssertion = "[REDACTED: client_assertion]"

// String will redact the assertion
func (a Assertion) String() string {
	return RedactedAssertion
}

// MarshalJSON will redact the assertion
func (a Assertion) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAssertion)
}

// NewJWT creates a new JWT which will be signed with the private key using
// alg.  The audience must be the absolute, canonical URL of the provider's
// token endpoint: providers validate "aud" against their own URL, so a
// locally proxied address will be rejected.
//
// Supported Options:
//   - WithKeyID
//   - WithHeaders
//   - WithNow
//   - WithIDGenerator
func NewJWT(clientID string, audience string, alg Algorithm, key crypto.PrivateKey, opts ...Option) (*JWT, error) {
	const op = "NewJWT"
	j := &JWT{
		clientID: clientID,
		audience: audience,
		alg:      alg,
		key:      key,
		headers:  make(map[string]string),
		genID:    uuid.GenerateUUID,
		now:      time.Now,
	}

	var errs []error
	for _, opt := range opts {
		if err := opt(j); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}

	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return j, nil
}

// NewJWTWithPrivateKeyPEM is NewJWT for a PEM encoded private key; see
// ParsePrivateKeyPEM for the accepted encodings.
func NewJWTWithPrivateKeyPEM(clientID string, audience string, alg Algorithm, keyPEM string, opts ...Option) (*JWT, error) {
	const op = "NewJWTWithPrivateKeyPEM"
	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	j, err := NewJWT(clientID, audience, alg, key, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return j, nil
}

// JWT is used to create a client assertion JWT, a special JWT used by an OAuth
// 2.0 or OIDC client to authenticate themselves to an authorization server
type JWT struct {
	// for JWT claims
	clientID string
	audience string
	headers  map[string]string

	// for signer
	alg Algorithm
	// key may be any key type that jose.SigningKey accepts for its Key
	key crypto.PrivateKey

	// these are overwritten for testing
	genID func() (string, error)
	now   func() time.Time
}

// Audience returns the "aud" claim every serialized assertion carries.
func (j *JWT) Audience() string { return j.audience }

// Serialize returns a newly minted client assertion JWT which can be used by
// an OAuth 2.0 or OIDC client to authenticate themselves to an authorization
// server.  Each call produces a unique "jti".
func (j *JWT) Serialize() (Assertion, error) {
	const op = "JWT.Serialize"
	if err := j.validate(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	builder, err := j.builder()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	token, err := builder.Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: failed to serialize token: %w", op, err)
	}
	return Assertion(token), nil
}

func (j *JWT) validate() error {
	const op = "JWT.validate"
	var errs []error
	if j.genID == nil {
		errs = append(errs, ErrMissingFuncIDGenerator)
	}
	if j.now == nil {
		errs = append(errs, ErrMissingFuncNow)
	}
	// bail early if any internal func errors
	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}

	if j.clientID == "" {
		errs = append(errs, ErrMissingClientID)
	}
	switch {
	case j.audience == "":
		errs = append(errs, ErrMissingAudience)
	case !isAbsoluteURL(j.audience):
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidAudience, j.audience))
	}
	switch {
	case j.alg == "":
		errs = append(errs, ErrMissingAlgorithm)
	case j.key == nil:
		errs = append(errs, ErrMissingKey)
	default:
		if err := j.alg.Validate(j.key); err != nil {
			errs = append(errs, err)
		}
	}
	// if any of those fail, we have no hope.
	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}
	return nil
}

func (j *JWT) builder() (jwt.Builder, error) {
	const op = "builder"
	signer, err := j.signer()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := j.genID()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to generate token id: %w", op, err)
	}
	return jwt.Signed(signer).Claims(j.claims(id)), nil
}

func (j *JWT) signer() (jose.Signer, error) {
	const op = "signer"
	sKey := jose.SigningKey{
		Algorithm: jose.SignatureAlgorithm(j.alg),
		Key:       j.key,
	}

	sOpts := &jose.SignerOptions{
		ExtraHeaders: make(map[jose.HeaderKey]interface{}, len(j.headers)),
	}
	for k, v := range j.headers {
		sOpts.ExtraHeaders[jose.HeaderKey(k)] = v
	}

	signer, err := jose.NewSigner(sKey, sOpts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrCreatingSigner, err)
	}
	return signer, nil
}

// claims are exactly iss, sub, aud, iat, exp and jti.
func (j *JWT) claims(id string) *jwt.Claims {
	now := j.now().UTC().Truncate(time.Second)
	return &jwt.Claims{
		Issuer:   j.clientID,
		Subject:  j.clientID,
		Audience: jwt.Audience{j.audience},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(Lifetime)),
		ID:       id,
	}
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}
