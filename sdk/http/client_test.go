// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"context"
	"crypto/tls"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewClient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	caPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}))

	t.Run("with-ca", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewClient(caPEM, 0)
		require.NoError(err)
		assert.Equal(DefaultTimeout, c.Timeout)
		tr, ok := c.Transport.(*http.Transport)
		require.True(ok)
		require.NotNil(tr.TLSClientConfig)
		assert.Equal(uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)

		resp, err := c.Get(srv.URL)
		require.NoError(err)
		defer resp.Body.Close()
		assert.Equal(http.StatusNoContent, resp.StatusCode)
	})
	t.Run("system-ca-rejects-test-server", func(t *testing.T) {
		require := require.New(t)
		c, err := NewClient("", time.Second)
		require.NoError(err)
		_, err = c.Get(srv.URL)
		require.Error(err)
	})
	t.Run("invalid-ca", func(t *testing.T) {
		assert := assert.New(t)
		c, err := NewClient("not a pem", 0)
		assert.ErrorIs(err, ErrInvalidCertificatePem)
		assert.Nil(c)
	})
}

func TestOidcClientContext(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	c := &http.Client{}
	ctx := OidcClientContext(context.Background(), c)
	assert.Equal(c, ctx.Value(oauth2.HTTPClient))
}
