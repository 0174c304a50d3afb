package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kaizen/internal/cli"
)

var errInconsistent = errors.New("catalog and index are inconsistent; run verify --repair")

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var (
		version string
		repair  bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that the index of a version matches the active catalog",
		Long: `verify compares the active catalog with the saved index of a version.

With --repair, missing entries whose corpus content still matches the catalog
are re-embedded and orphan entries are dropped. The catalog is never changed.`,
		Args: cobra.NoArgs,
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
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if !repair {
				res, err := c.Engine.Verify(ctx, version)
				if err != nil {
					return err
				}
				if err := cli.WriteVerify(out, res, format); err != nil {
					return err
				}
				if !res.Consistent() {
					return errInconsistent
				}
				return nil
			}

			docs, err := c.Source.ListDocuments(ctx)
			if err != nil {
				return err
			}
			res, err := c.Engine.Repair(ctx, docs, version)
			if res != nil {
				if werr := cli.WriteRepair(out, res, format); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "index version tag (default from config)")
	cmd.Flags().BoolVar(&repair, "repair", false, "restore missing entries and drop orphans")
	return cmd
}
