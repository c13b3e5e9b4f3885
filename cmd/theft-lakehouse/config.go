package main

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/prometheus/common/version"
	"github.com/spf13/cobra"

	"github.com/kube-reporting/theft-lakehouse/pkg/pipeline"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "prints the effective pipeline configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			spew.Fdump(cmd.OutOrStdout(), cfg)
			return cfg.Validate()
		},
	}
}

func newGenerateConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config",
		Short: "prints the built-in pipeline as a TOML configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ret, err := toml.Marshal(pipeline.DefaultConfig(opts.sourceDir, opts.lakeDir))
			if err != nil {
				return errors.Wrap(err, "marshalling config")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", ret)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "prints version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Print("theft-lakehouse"))
		},
	}
}
