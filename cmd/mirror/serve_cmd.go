package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/invoicehub/mirror/internal/controlplane"
	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr, token string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control plane",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cpCfg := &controlplane.Config{
				Addr:      c.cfg.ControlPlane.Addr,
				AuthToken: c.cfg.ControlPlane.Token,
				RateLimit: c.cfg.ControlPlane.RateLimit,
			}
			if cmd.Flags().Changed("addr") {
				cpCfg.Addr = addr
			}
			if cmd.Flags().Changed("token") {
				cpCfg.AuthToken = token
			}

			return c.run(cmd, func(ctx context.Context, a *app, p printer) error {
				svc := &controlplane.Services{Engine: a.engine, Progress: a.progress}
				if syncer, err := a.fileSyncer(ctx); err != nil {
					slog.Warn("file backend unavailable, /v1/files disabled", "error", err)
				} else {
					svc.Files = syncer
				}

				srv, err := controlplane.NewServer(cpCfg, svc)
				if err != nil {
					return err
				}

				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start(ctx) }()

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				}

				stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := srv.Stop(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				slog.Info("Bye!")
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (default from config)")
	cmd.Flags().StringVarP(&token, "token", "t", "", "bearer token required on /v1 (default from config)")
	return cmd
}
