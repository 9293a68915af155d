// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"

	"github.com/hashicorp/capsession/oidc"
)

// Status identifies a State variant.
type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusPending         Status = "pending"
	StatusAuthenticated   Status = "authenticated"
	StatusRenewing        Status = "renewing"
	StatusError           Status = "error"
)

// Statuses returns every Status.
func Statuses() []Status {
	return []Status{StatusUnauthenticated, StatusPending, StatusAuthenticated, StatusRenewing, StatusError}
}

// State is the session's state.  Callers type switch on the variant.
type State interface {
	Status() Status
	isState()
}

// Unauthenticated has no tokens.
type Unauthenticated struct{}

// Pending is waiting for the authorization response.
type Pending struct {
	// AuthURL is where the user agent was sent.
	AuthURL string
	// RequestID is the oauth state parameter of the pending request.
	RequestID string
	// Expiration is when the pending request expires.
	Expiration time.Time
}

// Authenticated holds the current tokens.  Claims is nil when the provider
// didn't return an id_token or it couldn't be decoded.
type Authenticated struct {
	Tokens *oidc.TokenSet
	Claims *oidc.IdentityClaims
}

// Renewing is renewing Previous, which remains the current token set until
// renewal completes.
type Renewing struct {
	Previous *oidc.TokenSet
	Claims   *oidc.IdentityClaims
}

// ErrorState is a failed authentication or renewal.  Login recovers from it.
type ErrorState struct {
	Reason string
	Err    error
}

func (Unauthenticated) Status() Status { return StatusUnauthenticated }
func (Pending) Status() Status         { return StatusPending }
func (Authenticated) Status() Status   { return StatusAuthenticated }
func (Renewing) Status() Status        { return StatusRenewing }
func (ErrorState) Status() Status      { return StatusError }

func (Unauthenticated) isState() {}
func (Pending) isState()         {}
func (Authenticated) isState()   {}
func (Renewing) isState()        {}
func (ErrorState) isState()      {}
