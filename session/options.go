// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"time"

	"github.com/hashicorp/capsession/oidc"
	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultAuthRequestTTL is how long a Pending authorization request is
	// accepted.
	DefaultAuthRequestTTL = 10 * time.Minute

	// DefaultExpiringNotificationTime is how long before the access token
	// expires that the AccessTokenExpiring event is sent.
	DefaultExpiringNotificationTime = 60 * time.Second
)

// IdTokenVerifier verifies id_tokens; satisfied by *oidc.MetadataResolver.
type IdTokenVerifier interface {
	VerifyIdToken(ctx context.Context, t oidc.IdToken, nonce string) error
}

// UserInfoFetcher gets userinfo claims; satisfied by *oidc.MetadataResolver.
type UserInfoFetcher interface {
	UserInfo(ctx context.Context, t oidc.AccessToken) (map[string]interface{}, error)
}

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// getOpts gets the defaults and applies the opt overrides passed in
func getOpts(opt ...Option) options {
	opts := defaults()
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// options = how options are represented
type options struct {
	withLogger                   hclog.Logger
	withNow                      func() time.Time
	withScopes                   []string
	withAuthParams               map[string]string
	withAuthRequestTTL           time.Duration
	withAutomaticRenew           bool
	withExpiringNotificationTime time.Duration
	withSilentAuthorizer         SilentAuthorizer
	withIdTokenVerifier          IdTokenVerifier
	withUserInfo                 UserInfoFetcher
	withPostLogoutRedirectURL    string
	withExchangerWrapper         func(TokenExchanger) TokenExchanger
}

func defaults() options {
	return options{
		withLogger:                   hclog.NewNullLogger(),
		withNow:                      time.Now,
		withAuthRequestTTL:           DefaultAuthRequestTTL,
		withExpiringNotificationTime: DefaultExpiringNotificationTime,
	}
}

// WithLogger provides an optional logger
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional clock
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && now != nil {
			o.withNow = now
		}
	}
}

// WithScopes provides additional scopes to request ("openid" is always
// requested)
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withScopes = scopes
		}
	}
}

// WithAuthParams provides additional authorization request parameters (for
// example: acr_values)
func WithAuthParams(params map[string]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withAuthParams = params
		}
	}
}

// WithAuthRequestTTL provides how long a pending authorization is accepted
func WithAuthRequestTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withAuthRequestTTL = d
		}
	}
}

// WithAutomaticRenew enables renewal when the access token expires, and the
// AccessTokenExpiring notification before it does.
func WithAutomaticRenew(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withAutomaticRenew = enabled
		}
	}
}

// WithExpiringNotificationTime provides how long before expiry the
// AccessTokenExpiring event is sent.
func WithExpiringNotificationTime(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d >= 0 {
			o.withExpiringNotificationTime = d
		}
	}
}

// WithSilentAuthorizer provides a prompt=none authorizer used to renew when
// there's no refresh token.
func WithSilentAuthorizer(a SilentAuthorizer) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withSilentAuthorizer = a
		}
	}
}

// WithIdTokenVerifier enables id_token verification.  Without it, id_token
// claims are decoded without verification.
func WithIdTokenVerifier(v IdTokenVerifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withIdTokenVerifier = v
		}
	}
}

// WithUserInfo enables Session.UserInfo
func WithUserInfo(f UserInfoFetcher) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withUserInfo = f
		}
	}
}

// WithPostLogoutRedirectURL provides the post_logout_redirect_uri of the
// end session URL returned by Logout.
func WithPostLogoutRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withPostLogoutRedirectURL = u
		}
	}
}

// WithExchangerWrapper provides a func which wraps the token exchanger created
// by NewFromConfig (for example: to instrument it).
func WithExchangerWrapper(w func(TokenExchanger) TokenExchanger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withExchangerWrapper = w
		}
	}
}
