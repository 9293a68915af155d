// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/capsession/oidc"
	"github.com/hashicorp/go-multierror"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CAPSESSION_"

// applyEnvOverrides overrides c with the CAPSESSION_* variables found by
// lookup.
func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) error {
	const op = "Config.applyEnvOverrides"
	env := envReader{lookup: lookup}

	env.str("ISSUER", &c.Issuer)
	env.str("CLIENT_ID", &c.ClientID)
	env.str("REDIRECT_URL", &c.RedirectURL)
	if v, ok := env.get("SIGNING_KEY"); ok {
		c.SigningKey = oidc.PrivateKeyPEM(v)
	}
	env.str("SIGNING_KEY_FILE", &c.SigningKeyFile)
	env.str("SIGNING_ALG", &c.SigningAlg)
	env.str("KEY_ID", &c.KeyID)
	env.csv("SCOPES", &c.Scopes)
	env.kv("AUTH_PARAMS", &c.AuthParams)
	env.str("ASSERTION_AUDIENCE", &c.AssertionAudience)
	env.bool("VERIFY_ID_TOKEN", &c.VerifyIdToken)
	env.csv("ID_TOKEN_SIGNING_ALGS", &c.IdTokenSigningAlgs)
	env.str("POST_LOGOUT_REDIRECT_URL", &c.PostLogoutRedirectURL)
	env.str("PROVIDER_CA", &c.ProviderCA)
	env.str("PROVIDER_CA_FILE", &c.ProviderCAFile)
	env.str("TIMEOUT", &c.Timeout)
	env.bool("PREFER_DISCOVERY", &c.PreferDiscovery)
	env.bool("AUTOMATIC_RENEW", &c.Session.AutomaticRenew)
	env.str("EXPIRING_NOTIFICATION_TIME", &c.Session.ExpiringNotificationTime)
	env.str("AUTH_REQUEST_TTL", &c.Session.AuthRequestTTL)
	env.str("METRICS_ADDR", &c.MetricsAddr)

	if err := env.errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   *multierror.Error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	return v, ok && v != ""
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) bool(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		e.errs = multierror.Append(e.errs, fmt.Errorf("%s%s %q: %w", EnvPrefix, name, v, ErrInvalidConfig))
		return
	}
	*dst = b
}

func (e *envReader) csv(name string, dst *[]string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

// kv parses "k1=v1,k2=v2".
func (e *envReader) kv(name string, dst *map[string]string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	out := map[string]string{}
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, val, found := strings.Cut(item, "=")
		k = strings.TrimSpace(k)
		if !found || k == "" {
			e.errs = multierror.Append(e.errs, fmt.Errorf("%s%s item %q is not key=value: %w", EnvPrefix, name, item, ErrInvalidConfig))
			continue
		}
		out[k] = strings.TrimSpace(val)
	}
	*dst = out
}

// withFallback looks up name with lookup, then in fallback.
func withFallback(lookup func(string) (string, bool), fallback map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		if v, ok := lookup(name); ok {
			return v, true
		}
		v, ok := fallback[name]
		return v, ok
	}
}
