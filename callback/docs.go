// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides http handlers for the redirect side of a
session's authorization code flow: Login sends the user agent to the
provider, and AuthCode completes the session with the provider's
authorization response.
*/
package callback
