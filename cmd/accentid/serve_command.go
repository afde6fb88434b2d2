package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"accentid/internal/config"
	"accentid/internal/logging"
	"accentid/internal/preflight"
	"accentid/internal/webui"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	var warm bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the accent classification web form",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := a.Close(); closeErr != nil {
					a.logger.Debug("shutdown failed", logging.Error(closeErr))
				}
			}()

			addr := a.cfg.Server.Bind
			if strings.TrimSpace(bind) != "" {
				addr = strings.TrimSpace(bind)
			}
			srv, err := webui.New(webui.Options{
				Bind:           addr,
				Runner:         a.pipeline,
				Health:         healthFunc(a.cfg, a.models.Loaded),
				MaxFormBytes:   a.cfg.Server.MaxFormBytes,
				RequestTimeout: a.cfg.RequestTimeout(),
				Logger:         a.logger,
			})
			if err != nil {
				return err
			}

			runCtx := cmd.Context()
			if warm {
				if _, err := a.models.Get(runCtx, a.cfg.Model.ID); err != nil {
					// The first request retries the load.
					logging.WarnWithContext(a.logger, "model warmup failed", "model_warmup_failed",
						logging.Error(err),
						logging.String(logging.FieldModelID, a.cfg.Model.ID),
						logging.String(logging.FieldImpact, "first classification will load the model"),
						logging.String(logging.FieldErrorHint, "run accentid status --hub"),
					)
				}
			}

			if err := srv.Start(runCtx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", srv.Addr())
			<-runCtx.Done()
			srv.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (overrides server.bind)")
	cmd.Flags().BoolVar(&warm, "warm", false, "Load the model before accepting requests")
	return cmd
}

// healthFunc reports "ok" while every directory check passes and every
// required binary is on PATH.
func healthFunc(cfg *config.Config, loaded func() []string) webui.HealthFunc {
	return func(ctx context.Context) webui.HealthReport {
		checks := preflight.RunAll(ctx, cfg, preflight.Options{})
		for _, status := range preflight.CheckSystemDeps(ctx, cfg) {
			if status.Optional {
				continue
			}
			detail := status.Path
			if !status.Available {
				detail = status.Detail
			}
			checks = append(checks, preflight.Result{
				Name:   status.Name,
				Passed: status.Available,
				Detail: detail,
			})
		}

		report := webui.HealthReport{
			Status:       "ok",
			ModelID:      cfg.Model.ID,
			LoadedModels: []string{},
			Checks:       checks,
		}
		if loaded != nil {
			report.LoadedModels = append(report.LoadedModels, loaded()...)
		}
		if !preflight.AllPassed(checks) {
			report.Status = "degraded"
		}
		return report
	}
}
