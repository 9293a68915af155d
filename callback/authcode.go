// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/capsession/oidc"
)

// Completer completes an authorization for a session; satisfied by
// *session.Session.
type Completer interface {
	Callback(ctx context.Context, state, code string) error
	CallbackError(state, errorCode, description string) error
	Tokens() (*oidc.TokenSet, bool)
}

// Starter starts an authorization for a session; satisfied by
// *session.Session.
type Starter interface {
	Login(ctx context.Context) (string, error)
}

// AuthCode creates an authorization code callback handler which completes
// the pending authorization of s with the response's "state" and "code"
// parameters.  State validation, the code exchange and the session's
// transition are all done by s.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
func AuthCode(ctx context.Context, s Completer, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	switch {
	case s == nil:
		return nil, fmt.Errorf("%s: session is nil: %w", op, oidc.ErrInvalidParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		// get parameters from either the body or query parameters.
		// FormValue prioritizes body values, if found
		reqState := req.FormValue("state")

		if errCode := req.FormValue("error"); errCode != "" {
			reqError := &AuthenErrorResponse{
				Error:       errCode,
				Description: req.FormValue("error_description"),
				Uri:         req.FormValue("error_uri"),
			}
			err := s.CallbackError(reqState, reqError.Error, reqError.Description)
			eFn(reqState, reqError, err, w, req)
			return
		}

		reqCode := req.FormValue("code")
		if reqCode == "" {
			err := s.CallbackError(reqState, "invalid_request", "missing code parameter")
			eFn(reqState, nil, fmt.Errorf("%s: missing code: %w", op, err), w, req)
			return
		}

		cctx, cancel := reqContext(ctx, req)
		defer cancel()
		if err := s.Callback(cctx, reqState, reqCode); err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		ts, _ := s.Tokens()
		sFn(reqState, ts, w, req)
	}, nil
}

// Login creates a handler which starts an authorization for s and redirects
// the user agent to the provider.  The ErrorResponseFunc is used when the
// authorization can't be started.
func Login(ctx context.Context, s Starter, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.Login"
	switch {
	case s == nil:
		return nil, fmt.Errorf("%s: session is nil: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		lctx, cancel := reqContext(ctx, req)
		defer cancel()
		authURL, err := s.Login(lctx)
		if err != nil {
			eFn("", nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		http.Redirect(w, req, authURL, http.StatusFound)
	}, nil
}

// reqContext is the request's context, also cancelled when ctx is.
func reqContext(ctx context.Context, req *http.Request) (context.Context, context.CancelFunc) {
	rctx, cancel := context.WithCancel(req.Context())
	if ctx == nil {
		return rctx, cancel
	}
	stop := context.AfterFunc(ctx, cancel)
	return rctx, func() {
		stop()
		cancel()
	}
}
