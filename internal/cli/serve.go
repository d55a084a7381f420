package cli

import (
	"github.com/spf13/cobra"

	"kasirinaja/terminal/internal/logging"
)

func NewServeCommand(opts *RootOptions, hooks Hooks) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the terminal HTTP API with background sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			logging.Init(cfg.LogDev || opts.Verbose)
			if hooks.BeforeServe != nil {
				if err := hooks.BeforeServe(cfg); err != nil {
					return WrapExitError(ExitCommandError, "invalid security configuration", err)
				}
			}

			rt, err := hooks.Open(cmd.Context(), cfg)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to start terminal", err)
			}
			defer func() {
				if err := rt.Close(); err != nil {
					logging.Logger().Error().Err(err).Msg("close error")
				}
			}()
			return rt.Serve(cmd.Context())
		},
	}
}
