// Package cli is the operator command line of a terminal: run the server,
// inspect and repair the sync queue, and trigger a reconciliation pass.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"kasirinaja/terminal/internal/app"
	"kasirinaja/terminal/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Format     string // "json" | "text"
	Verbose    bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Opener builds the runtime a command works on. Callers close it.
type Opener func(ctx context.Context, cfg config.Config) (*app.Runtime, error)

// Hooks let main supply the runtime builder and the pre-flight checks serve
// runs before listening.
type Hooks struct {
	Open        Opener
	BeforeServe func(cfg config.Config) error
}

// NewRootCommand creates the root command for the terminal CLI.
func NewRootCommand(hooks Hooks) *cobra.Command {
	opts := &RootOptions{}
	if hooks.Open == nil {
		hooks.Open = app.Build
	}

	cmd := &cobra.Command{
		Use:   "kasirinaja-terminal",
		Short: "Point-of-sale terminal with offline voids and refunds",
		Long: `Runs a point-of-sale terminal that applies voids and refunds against the
store datastore, queues them while offline and replays them on reconnect.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML config file (overrides CONFIG_FILE)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts, hooks))
	cmd.AddCommand(NewQueueCommand(opts, hooks))
	cmd.AddCommand(NewSyncCommand(opts, hooks))

	return cmd
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.ConfigFile != "" {
		return config.LoadFrom(opts.ConfigFile)
	}
	return config.Load()
}

// openRuntime loads configuration and builds the runtime, mapping failures
// to command errors.
func openRuntime(ctx context.Context, opts *RootOptions, hooks Hooks) (*app.Runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	rt, err := hooks.Open(ctx, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start terminal", err)
	}
	return rt, nil
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
