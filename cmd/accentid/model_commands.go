package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"accentid/internal/classifier"
	"accentid/internal/config"
	"accentid/internal/logging"
	"accentid/internal/modelstore"
)

func newModelCommand(ctx *commandContext) *cobra.Command {
	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "Manage cached classifier models",
	}
	modelCmd.AddCommand(newModelWarmCommand(ctx))
	modelCmd.AddCommand(newModelListCommand(ctx))
	modelCmd.AddCommand(newModelRemoveCommand(ctx))
	return modelCmd
}

func newModelWarmCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "warm [model-id]",
		Short: "Download a model and verify it loads",
		Args:  cobra.MaximumNArgs(1),
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

			modelID := a.cfg.Model.ID
			if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
				modelID = strings.TrimSpace(args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loading %s...\n", modelID)
			start := time.Now()
			handle, err := a.models.Get(cmd.Context(), modelID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Model %s ready with %d labels in %s\n",
				modelID, len(handle.Labels()), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func newModelListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List models recorded in the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := modelstore.Open(cfg.ManifestPath())
			if err != nil {
				return fmt.Errorf("open model manifest: %w", err)
			}
			defer store.Close()

			entries, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list models: %w", err)
			}
			if jsonOutput {
				if entries == nil {
					entries = []modelstore.Entry{}
				}
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No models recorded yet. Run `accentid model warm` to fetch one.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderModelTable(cfg, entries))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print entries as JSON")
	return cmd
}

const removeLockWait = 2 * time.Second

func newModelRemoveCommand(ctx *commandContext) *cobra.Command {
	var keepFiles bool

	cmd := &cobra.Command{
		Use:   "remove <model-id>",
		Short: "Forget a model and delete its downloaded artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			modelID := strings.TrimSpace(args[0])
			artifactDir, err := classifier.ArtifactDir(cfg.Model.CacheDir, modelID)
			if err != nil {
				return err
			}
			store, err := modelstore.Open(cfg.ManifestPath())
			if err != nil {
				return fmt.Errorf("open model manifest: %w", err)
			}
			defer store.Close()

			entry, err := store.Get(cmd.Context(), modelID)
			if err != nil {
				return fmt.Errorf("look up model: %w", err)
			}
			if entry != nil && entry.ArtifactDir != "" && filepath.Clean(entry.ArtifactDir) != artifactDir {
				return fmt.Errorf("manifest artifact dir %s does not match %s; remove it by hand", entry.ArtifactDir, artifactDir)
			}

			lockCtx, cancel := context.WithTimeout(cmd.Context(), removeLockWait)
			defer cancel()
			unlock, err := classifier.LockArtifacts(lockCtx, artifactDir)
			if err != nil {
				return fmt.Errorf("model %s is in use by another process: %w", modelID, err)
			}
			defer func() { _ = unlock() }()

			if err := store.Remove(cmd.Context(), modelID); err != nil {
				return fmt.Errorf("remove model: %w", err)
			}

			out := cmd.OutOrStdout()
			if !keepFiles {
				if err := os.RemoveAll(artifactDir); err != nil {
					return fmt.Errorf("delete artifacts: %w", err)
				}
				fmt.Fprintf(out, "Deleted %s\n", artifactDir)
			}
			if entry == nil {
				fmt.Fprintf(out, "Model %s was not in the manifest\n", modelID)
				return nil
			}
			fmt.Fprintf(out, "Removed %s\n", modelID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepFiles, "keep-files", false, "Keep downloaded artifacts on disk")
	return cmd
}

func renderModelTable(cfg *config.Config, entries []modelstore.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		id := entry.ModelID
		if id == cfg.Model.ID {
			id += " *"
		}
		rows = append(rows, []string{
			id,
			entry.Device,
			strconv.Itoa(len(entry.Labels)),
			strconv.Itoa(entry.LoadCount),
			entry.LoadDuration.Round(time.Millisecond).String(),
			entry.LoadedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return renderTable(
		[]string{"Model", "Device", "Labels", "Loads", "Last Load", "Last Used"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}
