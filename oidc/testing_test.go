// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"testing"

	"github.com/hashicorp/capsession/clientassertion"
	"github.com/stretchr/testify/require"
)

const (
	testClientID    = "test-client-id"
	testRedirectURL = "https://example.com/callback"
	testKeyID       = "test-kid"
)

// testStartProvider starts a TestProvider with a registered ES256 client and
// returns the client's identity.
func testStartProvider(t *testing.T) (*TestProvider, *ClientIdentity) {
	t.Helper()
	require := require.New(t)
	tp := StartTestProvider(t)
	pub, priv := TestGenerateKeys(t)
	tp.SetClientCreds(testClientID, pub, clientassertion.ES256)
	tp.SetAllowedRedirectURIs([]string{testRedirectURL})
	id, err := NewClientIdentity(testClientID, testRedirectURL, clientassertion.ES256, priv, testKeyID)
	require.NoError(err)
	return tp, id
}

func testConfig(t *testing.T, tp *TestProvider, opt ...Option) *Config {
	t.Helper()
	_, priv := TestGenerateKeys(t)
	c, err := NewConfig(tp.Addr(), testClientID, testRedirectURL, clientassertion.ES256, TestPrivateKeyPEM(t, priv), opt...)
	require.NoError(t, err)
	return c
}
