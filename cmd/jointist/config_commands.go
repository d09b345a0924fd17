package main

import (
	"github.com/spf13/cobra"

	"github.com/chaz8081/jointist-go/internal/models"
	"github.com/chaz8081/jointist-go/internal/pipeline"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	var validate bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := ctx.resolve()
			if err != nil {
				return err
			}
			if validate {
				if err := tree.Validate(pipeline.Catalogs()...); err != nil {
					return err
				}
			}
			return tree.WriteYAML(cmd.OutOrStdout())
		},
	}
	showCmd.Flags().BoolVar(&validate, "validate", false, "Fail if the configuration does not validate")
	configCmd.AddCommand(showCmd)

	return configCmd
}

func newCheckpointCommand(ctx *commandContext) *cobra.Command {
	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Checkpoint utilities",
	}

	checkpointCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write seeded checkpoints for the configured graphs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := ctx.resolve()
			if err != nil {
				return err
			}
			installLogger(cmd.ErrOrStderr(), tree)
			return pipeline.InitCheckpoints(tree)
		},
	})

	checkpointCmd.AddCommand(&cobra.Command{
		Use:   "download",
		Short: "Download checkpoints from checkpoint.detection_url and checkpoint.transcription_url",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := ctx.resolve()
			if err != nil {
				return err
			}
			installLogger(cmd.ErrOrStderr(), tree)
			return models.EnsureCheckpoints(cmd.Context(), tree, cmd.OutOrStdout())
		},
	})

	return checkpointCmd
}
