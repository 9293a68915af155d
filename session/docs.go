// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
session is a package for keeping a single OIDC login session consistent
across its lifetime: authorization, token exchange, expiry and renewal, and
logout.

Primary types provided by the package

* Session: the session state machine.  It owns the current oidc.TokenSet and
serializes every transition.  Transitions are:

	Unauthenticated --Login--> Pending
	Pending --Callback success--> Authenticated
	Pending --Callback failure--> Error
	Authenticated --AccessTokenExpired/Refresh--> Renewing
	Renewing --success--> Authenticated
	Renewing --failure--> Error
	Authenticated|Renewing|Pending|Error --Logout--> Unauthenticated
	Error --Login--> Pending

* State: the discriminated session state; one of Unauthenticated, Pending,
Authenticated, Renewing or ErrorState.

* Event: delivered synchronously to every subscriber (see Session.Subscribe)
on each externally visible transition, and as an advisory before the access
token expires.

* TokenExchanger: the token endpoint used by the session, satisfied by
*oidc.TokenEndpointClient.

* SilentAuthorizer: performs a prompt=none authorization round trip when a
renewal has no refresh token.

Listeners are called in transition order after the operation that caused the
event has released the session, so a listener may call Login, Logout or
Refresh; the events of that call are delivered after the current ones.  A
Renewing event is delivered together with the renewal's outcome.
*/
package session
