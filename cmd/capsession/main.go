// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// capsession is a command line OIDC relying party which authenticates with
// private_key_jwt client assertions.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
