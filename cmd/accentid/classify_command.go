package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"accentid/internal/logging"
	"accentid/internal/pipeline"
	"accentid/internal/services"
)

const urlPrompt = "Enter direct video URL (mp4): "

type classifyOptions struct {
	jsonOutput bool
	table      bool
	strict     bool
}

// classifyFailure is the --json payload for a failed run.
type classifyFailure struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Hint  string `json:"hint,omitempty"`
}

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	var opts classifyOptions

	cmd := &cobra.Command{
		Use:   "classify [url]",
		Short: "Classify the accent spoken in a video",
		Long: `Download the video at URL, extract its audio, and print the predicted accent.

When URL is omitted it is read from standard input. Failures are reported on
stdout and exit 0 unless --strict is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd, ctx, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVar(&opts.table, "table", false, "Also print the score for every accent")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Exit non-zero when classification fails")
	return cmd
}

func runClassify(cmd *cobra.Command, ctx *commandContext, args []string, opts classifyOptions) error {
	out := cmd.OutOrStdout()

	var sourceURL string
	if len(args) > 0 {
		sourceURL = args[0]
	} else {
		line, err := promptURL(cmd.InOrStdin(), out)
		if err != nil {
			return fmt.Errorf("read url: %w", err)
		}
		sourceURL = line
	}
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		err := services.Wrap(services.ErrValidation, "classify", "", "no URL provided", nil)
		if opts.jsonOutput {
			if writeErr := writeJSON(cmd, failurePayload(err)); writeErr != nil {
				return writeErr
			}
		} else {
			fmt.Fprintln(out, "No URL provided.")
		}
		if opts.strict {
			return err
		}
		return nil
	}

	a, err := ctx.openApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.logger.Debug("shutdown failed", logging.Error(closeErr))
		}
	}()

	progress := out
	if opts.jsonOutput {
		progress = cmd.ErrOrStderr()
	}
	result, err := a.pipeline.RunWithProgress(cmd.Context(), sourceURL, func(stage pipeline.Stage) {
		fmt.Fprintln(progress, stageMessage(stage))
	})
	if err != nil {
		return reportClassifyError(cmd, err, opts)
	}

	if opts.jsonOutput {
		return writeJSON(cmd, result)
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, renderResult(result))
	if opts.table && len(result.Distribution) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderDistribution(result.Distribution))
	}
	return nil
}

// promptURL reads one line from in. The prompt is only shown to a terminal.
func promptURL(in io.Reader, out io.Writer) (string, error) {
	if file, ok := in.(*os.File); ok && isatty.IsTerminal(file.Fd()) {
		fmt.Fprint(out, urlPrompt)
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func reportClassifyError(cmd *cobra.Command, err error, opts classifyOptions) error {
	// Interrupts always end the process with a failure status.
	if services.Kind(err) == services.KindCanceled {
		return err
	}
	if opts.jsonOutput {
		if writeErr := writeJSON(cmd, failurePayload(err)); writeErr != nil {
			return writeErr
		}
	} else {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Error: %v\n", err)
		if hint := services.Hint(err); hint != "" {
			fmt.Fprintf(out, "Hint: %s\n", hint)
		}
	}
	if opts.strict {
		return err
	}
	return nil
}

func failurePayload(err error) classifyFailure {
	return classifyFailure{
		Error: err.Error(),
		Kind:  services.Kind(err),
		Hint:  services.Hint(err),
	}
}

func stageMessage(stage pipeline.Stage) string {
	switch stage {
	case pipeline.StageFetching:
		return "[*] Downloading video..."
	case pipeline.StageTranscoding:
		return "[*] Extracting audio..."
	case pipeline.StageLoadingModel:
		return "[*] Loading accent classification model..."
	case pipeline.StageClassifying:
		return "[*] Classifying accent..."
	default:
		return fmt.Sprintf("[*] %s...", stage)
	}
}
