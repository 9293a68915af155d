// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAssertionCmd(flags *rootFlags) *cobra.Command {
	var audience string
	cmd := &cobra.Command{
		Use:   "assertion",
		Short: "Print a freshly signed client assertion",
		Long: `Print a freshly signed private_key_jwt client assertion.  The audience is
--audience, else the configured assertion_audience, else the provider's
token endpoint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, oc, err := flags.load()
			if err != nil {
				return err
			}
			id, err := oc.ClientIdentity()
			if err != nil {
				return err
			}
			aud := audience
			if aud == "" {
				aud = oc.AssertionAudience
			}
			if aud == "" {
				_, md, err := resolve(cmd.Context(), oc, flags.logger(cmd.ErrOrStderr()))
				if err != nil {
					return err
				}
				aud = md.TokenEndpoint
			}
			j, err := id.Assertion(aud)
			if err != nil {
				return err
			}
			a, err := j.Serialize()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(a))
			return err
		},
	}
	cmd.Flags().StringVar(&audience, "audience", "", "assertion audience (the canonical token endpoint)")
	return cmd
}
