// Package cmd provides the CLI commands for kaizen.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kaizen/internal/cli"
	"github.com/hyperjump/kaizen/internal/config"
	"github.com/hyperjump/kaizen/pkg/utils"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

const defaultConfigPath = "/usr/local/etc/kaizen/config.yaml"

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	debug      bool
	output     string
}

// NewRootCmd creates the root command for the kaizen CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "kaizen",
		Short: "Incremental document indexing engine",
		Long: `kaizen keeps a versioned embedding index in step with a document corpus.

Each reconcile run fingerprints every document, embeds only what changed,
tombstones what disappeared, and saves a new snapshot of the index.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("kaizen version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "config file path (YAML or TOML)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text or json")

	cmd.AddCommand(newReconcileCmd(opts))
	cmd.AddCommand(newVerifyCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig loads config from path. When path is the default, config.yaml or
// config.toml in the current directory takes precedence; when neither the
// default nor a local file exists, built-in defaults are used.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			for _, name := range []string{"config.yaml", "config.toml"} {
				fallback := filepath.Join(cwd, name)
				if _, err := os.Stat(fallback); err == nil {
					cfg, err := config.Load(fallback)
					if err != nil {
						return nil, "", err
					}
					return cfg, fallback, nil
				}
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads the config and builds a logger honoring --debug and the config's
// debug flag.
func (o *rootOptions) setup() (*config.Config, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || o.debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))
	return cfg, logger, nil
}

func (o *rootOptions) format() (cli.OutputFormat, error) {
	return cli.ParseOutputFormat(o.output)
}
