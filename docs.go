// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// capsession provides OIDC relying party login sessions whose client
// authenticates to the token endpoint with private_key_jwt client assertions
// (RFC 7523) instead of a client secret.
//
// The packages are:
//   - clientassertion: signs client assertion JWTs
//   - oidc: provider metadata resolution, the token endpoint client, token
//     sets, identity claims, userinfo and the TestProvider
//   - session: the login session state machine
//   - callback: http handlers for the redirect leg of the login
//   - config: YAML and environment configuration
//   - metrics: Prometheus metrics for sessions
//
// See cmd/capsession for a command line client.
package capsession
