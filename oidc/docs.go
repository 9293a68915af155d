// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for writing OIDC relying party integrations that use
private_key_jwt client authentication.

Primary types provided by the package

* Config: the configuration of a typical 3-legged OIDC authorization code
flow for a private_key_jwt client (client id, redirect URL, signing key, key
id and algorithm, scopes, optional static endpoints, optional canonical
assertion audience).

* ClientIdentity: the immutable client credentials derived from a Config.

* MetadataResolver: resolves ProviderMetadata once, either from static
configuration or from the issuer's discovery document.  It also makes
UserInfo requests and verifies id_tokens.

* TokenEndpointClient: exchanges an authorization code or a refresh token for
a TokenSet, authenticating with a freshly minted client assertion on every
request.

* TokenSet: the normalized token endpoint response (access_token, id_token,
refresh_token, expiry, etc).  Token strings are redacted when printed.

* IdentityClaims: the decoded claims of an id_token.

* AuthRequest: one authorization attempt (state, nonce and PKCE verifier).

The session engine that drives these types through a login lifecycle lives
in the session package.
*/
package oidc
