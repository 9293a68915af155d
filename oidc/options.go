// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithNow provides an optional clock for: TokenEndpointClient,
// NewAuthRequest, MetadataResolver
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *tokenClientOptions:
			v.withNow = now
		case *authRequestOptions:
			v.withNow = now
		case *resolverOptions:
			v.withNow = now
		}
	}
}

// WithLogger provides an optional logger for: TokenEndpointClient,
// MetadataResolver
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *tokenClientOptions:
			v.withLogger = l
		case *resolverOptions:
			v.withLogger = l
		}
	}
}

// WithHTTPClient provides an optional http client for: TokenEndpointClient,
// MetadataResolver.  It overrides the client built from Config.ProviderCA.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if c == nil {
			return
		}
		switch v := o.(type) {
		case *tokenClientOptions:
			v.withHTTPClient = c
		case *resolverOptions:
			v.withHTTPClient = c
		}
	}
}
