// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/capsession/clientassertion"
	"github.com/hashicorp/capsession/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
issuer: https://idp.example
client_id: c1
redirect_url: http://localhost:8080/callback
signing_alg: ES256
key_id: kid-1
scopes: [email, profile]
auth_params:
  acr_values: gold
assertion_audience: https://idp.example/oauth2/token
timeout: 5s
session:
  automatic_renew: true
  expiring_notification_time: 30s
`

func testEnv(m map[string]string) Option {
	return WithLookupEnv(func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	})
}

func testWriteFile(t *testing.T, name, contents string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o600))
	return p
}

func testKeyFile(t *testing.T) string {
	t.Helper()
	_, priv := oidc.TestGenerateKeys(t)
	return testWriteFile(t, "key.pem", string(oidc.TestPrivateKeyPEM(t, priv)))
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := testWriteFile(t, "capsession.yaml", testYAML)

	t.Run("file", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := Load(path, testEnv(nil))
		require.NoError(err)
		assert.Equal("https://idp.example", c.Issuer)
		assert.Equal("c1", c.ClientID)
		assert.Equal("ES256", c.SigningAlg)
		assert.Equal([]string{"email", "profile"}, c.Scopes)
		assert.Equal(map[string]string{"acr_values": "gold"}, c.AuthParams)
		assert.Equal("https://idp.example/oauth2/token", c.AssertionAudience)
		assert.True(c.Session.AutomaticRenew)
	})

	t.Run("env-overrides", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := Load(path, testEnv(map[string]string{
			"CAPSESSION_CLIENT_ID":       "c2",
			"CAPSESSION_SCOPES":          "email, groups",
			"CAPSESSION_AUTH_PARAMS":     "acr_values=silver, login_hint=u1",
			"CAPSESSION_VERIFY_ID_TOKEN": "true",
			"CAPSESSION_ISSUER":          "",
		}))
		require.NoError(err)
		assert.Equal("c2", c.ClientID)
		assert.Equal("https://idp.example", c.Issuer, "empty values don't override")
		assert.Equal([]string{"email", "groups"}, c.Scopes)
		assert.Equal(map[string]string{"acr_values": "silver", "login_hint": "u1"}, c.AuthParams)
		assert.True(c.VerifyIdToken)
	})

	t.Run("env-only", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := Load("", testEnv(map[string]string{"CAPSESSION_ISSUER": "https://other.example"}))
		require.NoError(err)
		assert.Equal("https://other.example", c.Issuer)
		assert.Equal(string(DefaultSigningAlg), c.SigningAlg)
	})

	t.Run("env-file", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		envFile := testWriteFile(t, ".env", "CAPSESSION_CLIENT_ID=from-dotenv\nCAPSESSION_KEY_ID=kid-dotenv\n")
		c, err := Load(path, WithEnvFile(envFile), testEnv(map[string]string{"CAPSESSION_KEY_ID": "kid-env"}))
		require.NoError(err)
		assert.Equal("from-dotenv", c.ClientID)
		assert.Equal("kid-env", c.KeyID, "the environment wins over the .env file")
	})

	t.Run("errors", func(t *testing.T) {
		assert := assert.New(t)
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), testEnv(nil))
		assert.ErrorIs(err, ErrReadFile)

		_, err = Load(testWriteFile(t, "bad.yaml", "scopes: {not: [a, list"), testEnv(nil))
		assert.ErrorIs(err, ErrInvalidConfig)

		_, err = Load(path, testEnv(map[string]string{
			"CAPSESSION_VERIFY_ID_TOKEN": "maybe",
			"CAPSESSION_AUTH_PARAMS":     "novalue",
		}))
		assert.ErrorIs(err, ErrInvalidConfig)
		assert.Contains(err.Error(), "CAPSESSION_VERIFY_ID_TOKEN")
		assert.Contains(err.Error(), "CAPSESSION_AUTH_PARAMS")

		_, err = Load(path, WithEnvFile(filepath.Join(t.TempDir(), "missing.env")), testEnv(nil))
		assert.ErrorIs(err, ErrReadFile)
	})
}

func TestConfig_OIDCConfig(t *testing.T) {
	t.Parallel()
	path := testWriteFile(t, "capsession.yaml", testYAML)

	t.Run("key-file", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := Load(path, testEnv(map[string]string{"CAPSESSION_SIGNING_KEY_FILE": testKeyFile(t)}))
		require.NoError(err)
		oc, err := c.OIDCConfig()
		require.NoError(err)
		assert.Equal("c1", oc.ClientID)
		assert.Equal(clientassertion.ES256, oc.SigningAlg)
		assert.Equal("kid-1", oc.KeyID)
		assert.Equal("https://idp.example/oauth2/token", oc.AssertionAudience)
		assert.Equal(5*time.Second, oc.Timeout)
		assert.Equal(map[string]string{"acr_values": "gold"}, oc.AuthParams)
		assert.False(oc.VerifyIdToken)
		id, err := oc.ClientIdentity()
		require.NoError(err)
		assert.Equal("c1", id.ClientID())
	})

	t.Run("inline-key-and-static-metadata", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, priv := oidc.TestGenerateKeys(t)
		c, err := Load(path, testEnv(map[string]string{
			"CAPSESSION_SIGNING_KEY":     string(oidc.TestPrivateKeyPEM(t, priv)),
			"CAPSESSION_VERIFY_ID_TOKEN": "1",
		}))
		require.NoError(err)
		c.ProviderMetadata = &oidc.ProviderMetadata{
			Issuer:                "https://idp.example",
			AuthorizationEndpoint: "https://idp.example/authorize",
			TokenEndpoint:         "https://idp.example/token",
			UserinfoEndpoint:      "https://idp.example/userinfo",
			JWKSURI:               "https://idp.example/jwks",
		}
		oc, err := c.OIDCConfig()
		require.NoError(err)
		assert.True(oc.VerifyIdToken)
		require.NotNil(oc.StaticMetadata)
		assert.Equal("https://idp.example/token", oc.StaticMetadata.TokenEndpoint)
	})

	t.Run("errors", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := Load(path, testEnv(map[string]string{
			"CAPSESSION_SIGNING_KEY_FILE": filepath.Join(t.TempDir(), "missing.pem"),
			"CAPSESSION_TIMEOUT":          "soon",
		}))
		require.NoError(err)
		_, err = c.OIDCConfig()
		require.Error(err)
		assert.ErrorIs(err, ErrReadFile)
		assert.ErrorIs(err, ErrInvalidConfig)

		c, err = Load(path, testEnv(nil))
		require.NoError(err)
		_, err = c.OIDCConfig()
		assert.Error(err, "a config without a signing key is invalid")
	})
}

func TestConfig_SessionOptions(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, err := Load(testWriteFile(t, "capsession.yaml", testYAML), testEnv(nil))
	require.NoError(err)
	opts, err := c.SessionOptions()
	require.NoError(err)
	assert.Len(opts, 2)

	c.Session.AuthRequestTTL = "-1m"
	_, err = c.SessionOptions()
	assert.ErrorIs(err, ErrInvalidConfig)
}
