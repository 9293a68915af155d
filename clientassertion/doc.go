// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package clientassertion signs JWTs with a private key for use in OIDC
// client_assertion requests, A.K.A. private_key_jwt.
// reference: https://oauth.net/private-key-jwt/
//
// Example usage:
//
//	key, err := clientassertion.ParsePrivateKeyPEM(pemString)
//	j, err := clientassertion.NewJWT("client-id", "https://idp.example/token",
//		clientassertion.RS512, key,
//		clientassertion.WithKeyID("jwks-key-id"),
//	)
//	assertion, err := j.Serialize()
//
// Every call to Serialize mints a new assertion with a fresh "jti", so one
// assertion is never replayed across token requests.
package clientassertion
