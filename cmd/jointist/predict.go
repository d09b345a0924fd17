package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chaz8081/jointist-go/internal/config"
	"github.com/chaz8081/jointist-go/internal/midiout"
	"github.com/chaz8081/jointist-go/internal/models"
	"github.com/chaz8081/jointist-go/internal/pipeline"
)

func newPredictCommand(ctx *commandContext) *cobra.Command {
	var input, output string
	var download bool

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Transcribe one WAV file to MIDI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateInput(input); err != nil {
				return err
			}
			overrides := []config.Override{
				{Path: "audio_path", Value: input},
				{Path: "audio_ext", Value: strings.ToLower(strings.TrimPrefix(filepath.Ext(input), "."))},
			}
			if output != "" {
				overrides = append(overrides, config.Override{Path: "output", Value: output})
			}
			tree, err := ctx.resolve(overrides...)
			if err != nil {
				return err
			}
			logger := installLogger(cmd.ErrOrStderr(), tree)

			if download {
				if err := models.EnsureCheckpoints(cmd.Context(), tree, cmd.ErrOrStderr()); err != nil {
					return err
				}
			}

			runner, err := pipeline.Build(cmd.Context(), tree)
			if err != nil {
				return err
			}
			res, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}

			out, err := tree.String("output")
			if err != nil {
				return err
			}
			snapshot := out + ".config.yaml"
			if err := writeSnapshot(snapshot, tree); err != nil {
				return err
			}
			if err := midiout.Write(out, res); err != nil {
				_ = os.Remove(snapshot)
				return err
			}
			logger.Info("prediction written", "output", out)

			renderSummary(cmd.OutOrStdout(), res, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Input WAV file (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output MIDI path (default MIDI_output/<input name>.mid)")
	cmd.Flags().BoolVar(&download, "download", false, "Download missing checkpoints from their configured URLs")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func validateInput(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("an input file is required (-i)")
	}
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		return fmt.Errorf("input %s is not a .wav file", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input %s is a directory", path)
	}
	return nil
}

// writeSnapshot records the resolved configuration next to the output. The
// file appears under its final name only once it is complete.
func writeSnapshot(path string, tree *config.Tree) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("config snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tree.WriteYAML(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("config snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("config snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("config snapshot: %w", err)
	}
	return nil
}
