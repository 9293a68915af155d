// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net/http"

	"github.com/hashicorp/capsession/oidc"
)

// SuccessResponseFunc is used by callbacks to create a http response when the
// callback is successful.
//
// The function state parameter will contain the state that was returned as
// part of a successful authorization response.  The oidc.TokenSet is the
// session's token set after the code exchange.  The function should use the
// http.ResponseWriter to send back whatever content (headers, html, JSON,
// etc) it wishes to the client that originated the flow.
type SuccessResponseFunc func(state string, t *oidc.TokenSet, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by callbacks to create a http response when the
// callback fails.
//
// The function receives the state returned as part of the authorization
// response.  It also gets the provider's authorization error response (if
// there was one) and the error raised while processing the request.  The
// session has already moved to its error state when the function is called.
type ErrorResponseFunc func(state string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse represents Oauth2 error responses.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Uri         string `json:"error_uri,omitempty"`
}
