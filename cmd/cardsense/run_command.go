package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-cardsense/pkg/app"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var port string
	var noWeb bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the detection loop and dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Web.Port = port
			}
			if noWeb {
				cfg.Web.Enabled = false
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(cfg, app.WithLogger(slog.Default()))
			if err != nil {
				return fmt.Errorf("configuration: %w", err)
			}
			defer a.Shutdown()

			if err := a.Init(signalCtx); err != nil {
				return fmt.Errorf("initialization: %w", err)
			}
			return a.Run(signalCtx)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "Dashboard port (overrides web.port)")
	cmd.Flags().BoolVar(&noWeb, "no-web", false, "Disable the dashboard")
	return cmd
}
