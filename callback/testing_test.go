// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/hashicorp/capsession/clientassertion"
	"github.com/hashicorp/capsession/oidc"
	"github.com/hashicorp/capsession/session"
	"github.com/stretchr/testify/require"
)

// testSuccessFn is a test SuccessResponseFunc
func testSuccessFn(state string, t *oidc.TokenSet, w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("login successful"))
}

// testFailFn is a test ErrorResponseFunc
func testFailFn(state string, r *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
	if r != nil {
		w.WriteHeader(http.StatusUnauthorized)
		j, _ := json.Marshal(r)
		_, _ = w.Write(j)
		return
	}
	if e != nil {
		w.WriteHeader(http.StatusInternalServerError)
		j, _ := json.Marshal(&AuthenErrorResponse{
			Error:       "internal-callback-error",
			Description: e.Error(),
		})
		_, _ = w.Write(j)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	j, _ := json.Marshal(&AuthenErrorResponse{
		Error: "unknown-callback-error",
	})
	_, _ = w.Write(j)
}

// testNewSession registers a client with the TestProvider (tp) and creates a
// session for it which redirects to redirectURL.
func testNewSession(t *testing.T, tp *oidc.TestProvider, redirectURL string) *session.Session {
	const op = "testNewSession"
	t.Helper()
	require := require.New(t)
	require.NotEmptyf(redirectURL, "%s: redirect URL is empty", op)

	pub, priv := oidc.TestGenerateKeys(t)
	tp.SetClientCreds("test-client-id", pub, clientassertion.ES256)
	c, err := oidc.NewConfig(
		tp.Addr(),
		"test-client-id",
		redirectURL,
		clientassertion.ES256,
		oidc.TestPrivateKeyPEM(t, priv),
		oidc.WithProviderCA(tp.CACert()),
	)
	require.NoError(err)
	s, err := session.NewFromConfig(context.Background(), c)
	require.NoError(err)
	t.Cleanup(s.Close)
	return s
}
