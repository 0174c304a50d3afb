package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kaizen/internal/cli"
	"github.com/hyperjump/kaizen/internal/storage"
)

const statusRunLimit = 5

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show catalog counts, index versions and recent runs",
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
			if err := storage.ValidateVersion(version); err != nil {
				return err
			}
			ctx := cmd.Context()
			st := &cli.Status{Version: version}
			if st.Documents, err = c.Catalog.Count(ctx, version); err != nil {
				return err
			}
			if st.Versions, err = c.Artifacts.Versions(ctx); err != nil {
				return err
			}
			if st.Runs, err = c.Engine.Runs(ctx, "", statusRunLimit); err != nil {
				return err
			}
			paths := append(storage.CatalogFiles(cfg.Storage.DatabasePath), cfg.Storage.ArtifactPath)
			if st.DiskUsageBytes, err = storage.DiskUsageBytes(paths...); err != nil {
				logger.Debug("disk usage unavailable", zap.Error(err))
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, format)
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "index version whose catalog is counted (default from config)")
	return cmd
}
