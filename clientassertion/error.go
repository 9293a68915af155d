// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import "errors"

var (
	// these may happen due to user error

	ErrMissingClientID  = errors.New("missing client ID")
	ErrMissingAudience  = errors.New("missing audience")
	ErrInvalidAudience  = errors.New("audience is not an absolute URL")
	ErrMissingAlgorithm = errors.New("missing signing algorithm")
	ErrMissingKey       = errors.New("missing private key")
	ErrInvalidKeyFormat = errors.New("invalid private key format")
	ErrInvalidHeader    = errors.New("invalid jwt header")

	// if these happen, either the user directly instantiated &JWT{}
	// or there's a bug somewhere.

	ErrMissingFuncIDGenerator = errors.New("missing IDgen func; please use NewJWT()")
	ErrMissingFuncNow         = errors.New("missing now func; please use NewJWT()")
	ErrCreatingSigner         = errors.New("error creating jwt signer")

	// algorithm errors

	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
)
