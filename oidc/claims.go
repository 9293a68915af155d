// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims are the decoded claims of an id_token.  They're derived from
// the TokenSet's id_token and never stored independently.
type IdentityClaims struct {
	Subject       string
	Name          string
	Email         string
	EmailVerified bool
	Issuer        string
	Audience      []string
	IssuedAt      time.Time
	Expiry        time.Time

	// Extra contains every claim of the id_token, including the ones above.
	Extra map[string]interface{}
}

// DecodeIdentityClaims decodes the id_token's payload without verifying its
// signature (see MetadataResolver.VerifyIdToken).  A token that isn't a JWT
// or has no "sub" fails with ErrClaimsDecode.
func DecodeIdentityClaims(t IdToken) (*IdentityClaims, error) {
	const op = "DecodeIdentityClaims"
	if t == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(string(t), mc); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrClaimsDecode, err)
	}
	sub, err := mc.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrClaimsDecode, err)
	}
	if sub == "" {
		return nil, fmt.Errorf("%s: %w: sub claim is missing", op, ErrClaimsDecode)
	}
	c := &IdentityClaims{
		Subject: sub,
		Extra:   map[string]interface{}(mc),
	}
	if c.Issuer, err = mc.GetIssuer(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrClaimsDecode, err)
	}
	aud, err := mc.GetAudience()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrClaimsDecode, err)
	}
	c.Audience = []string(aud)
	iat, err := mc.GetIssuedAt()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrClaimsDecode, err)
	}
	if iat != nil {
		c.IssuedAt = iat.Time
	}
	exp, err := mc.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrClaimsDecode, err)
	}
	if exp != nil {
		c.Expiry = exp.Time
	}
	c.Name, _ = mc["name"].(string)
	c.Email, _ = mc["email"].(string)
	switch v := mc["email_verified"].(type) {
	case bool:
		c.EmailVerified = v
	case string:
		c.EmailVerified = v == "true"
	}
	return c, nil
}

// Claim returns an additional claim by name.
func (c *IdentityClaims) Claim(name string) (interface{}, bool) {
	v, ok := c.Extra[name]
	return v, ok
}
