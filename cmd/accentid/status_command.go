package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"accentid/internal/config"
	"accentid/internal/deps"
	"accentid/internal/modelstore"
	"accentid/internal/preflight"
)

type statusReport struct {
	ConfigPath   string             `json:"config_path"`
	ConfigExists bool               `json:"config_exists"`
	ModelID      string             `json:"model_id"`
	Device       string             `json:"device"`
	Dependencies []deps.Status      `json:"dependencies"`
	Checks       []preflight.Result `json:"checks"`
	ModelCached  bool               `json:"model_cached"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var checkHub bool
	var hubURL string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report configuration, external tools, and directory health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report := statusReport{
				ConfigPath:   ctx.configPath,
				ConfigExists: ctx.configExists,
				ModelID:      cfg.Model.ID,
				Device:       cfg.Model.Device,
				Dependencies: preflight.CheckSystemDeps(cmd.Context(), cfg),
				Checks: preflight.RunAll(cmd.Context(), cfg, preflight.Options{
					CheckHub:   checkHub,
					HubBaseURL: hubURL,
				}),
				ModelCached: modelCached(cmd, cfg),
			}
			if jsonOutput {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderStatus(report, shouldColorize(out)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&checkHub, "hub", false, "Also confirm the model is reachable on Hugging Face")
	cmd.Flags().StringVar(&hubURL, "hub-url", "", "Hugging Face endpoint")
	_ = cmd.Flags().MarkHidden("hub-url")
	return cmd
}

func modelCached(cmd *cobra.Command, cfg *config.Config) bool {
	store, err := modelstore.Open(cfg.ManifestPath())
	if err != nil {
		return false
	}
	defer store.Close()
	entry, err := store.Get(cmd.Context(), cfg.Model.ID)
	return err == nil && entry != nil
}

func renderStatus(report statusReport, colorize bool) string {
	var lines []string

	lines = append(lines, renderSectionHeader("Configuration", colorize)...)
	if report.ConfigExists {
		lines = append(lines, renderStatusLine("Config file", statusOK, report.ConfigPath, colorize))
	} else {
		lines = append(lines, renderStatusLine("Config file", statusWarn, "defaults in use ("+report.ConfigPath+" not found)", colorize))
	}
	lines = append(lines, renderStatusLine("Model", statusInfo, fmt.Sprintf("%s on %s", report.ModelID, report.Device), colorize))
	if report.ModelCached {
		lines = append(lines, renderStatusLine("Model cache", statusOK, "downloaded", colorize))
	} else {
		lines = append(lines, renderStatusLine("Model cache", statusInfo, "not downloaded yet", colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
	for _, status := range report.Dependencies {
		lines = append(lines, renderDependencyLine(status, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Checks", colorize)...)
	for _, check := range report.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}

	if missing := deps.MissingRequired(report.Dependencies); len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for _, m := range missing {
			names = append(names, m.Name)
		}
		lines = append(lines, "", fmt.Sprintf("Missing required tools: %s", strings.Join(names, ", ")))
	}
	return strings.Join(lines, "\n") + "\n"
}

func renderDependencyLine(status deps.Status, colorize bool) string {
	if status.Available {
		detail := status.Path
		if status.Version != "" {
			detail = status.Version
		}
		return renderStatusLine(status.Name, statusOK, detail, colorize)
	}
	kind := statusError
	if status.Optional {
		kind = statusWarn
	}
	return renderStatusLine(status.Name, kind, status.Detail, colorize)
}
