package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hyperjump/kaizen/internal/cli"
)

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Bring the catalog and index of a version in line with the corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			c, err := initializeComponents(cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			if version == "" {
				version = cfg.Reconcile.Version
			}
			report, runErr := c.Engine.ReconcileSource(cmd.Context(), c.Source, version)
			if report != nil {
				if err := cli.WriteReport(cmd.OutOrStdout(), report, format); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "index version tag (default from config)")
	return cmd
}
