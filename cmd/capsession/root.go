// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/capsession/config"
	"github.com/hashicorp/capsession/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "capsession",
		Short:         "OIDC login sessions with private_key_jwt client authentication",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file (CAPSESSION_* environment variables override it)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", ".env file with CAPSESSION_* variables")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level: trace|debug|info|warn|error")

	root.AddCommand(
		newLoginCmd(flags),
		newAssertionCmd(flags),
		newDiscoverCmd(flags),
	)
	return root
}

func (f *rootFlags) logger(w io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "capsession",
		Level:  hclog.LevelFromString(f.logLevel),
		Output: w,
	})
}

// load reads the config file and environment.
func (f *rootFlags) load() (*config.Config, *oidc.Config, error) {
	const op = "load"
	var opts []config.Option
	if f.envFile != "" {
		opts = append(opts, config.WithEnvFile(f.envFile))
	}
	c, err := config.Load(f.configPath, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	oc, err := c.OIDCConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, oc, nil
}

// resolve returns the provider metadata for oc.
func resolve(ctx context.Context, oc *oidc.Config, logger hclog.Logger) (*oidc.MetadataResolver, *oidc.ProviderMetadata, error) {
	const op = "resolve"
	r, err := oidc.NewMetadataResolver(oc, oidc.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	md, err := r.Resolve(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, md, nil
}
