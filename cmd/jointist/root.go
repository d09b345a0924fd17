package main

import (
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/chaz8081/jointist-go/internal/config"
)

const envPrefix = "JOINTIST_"

type commandContext struct {
	configDir string
	template  string
	sets      []string
}

func (c *commandContext) bindFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.configDir, "config-dir", "", "Directory searched for templates before the built-in ones")
	flags.StringVar(&c.template, "template", config.DefaultTemplate, "Base configuration template")
	flags.StringArrayVar(&c.sets, "set", nil, "Override an option (path=value, +path=value adds a new one); repeatable")
}

// resolve builds the configuration tree from the template flags, the
// environment, the --set overrides and then extra, in that order.
func (c *commandContext) resolve(extra ...config.Override) (*config.Tree, error) {
	overrides, err := config.ParseOverrides(c.sets)
	if err != nil {
		return nil, err
	}
	r := config.Resolver{TemplateDir: c.configDir, EnvPrefix: envPrefix}
	return r.Resolve(c.template, append(overrides, extra...))
}

// installLogger makes a text logger on w at the tree's log level the
// default, tagged with a fresh run id, and records where the tree came from.
func installLogger(w io.Writer, tree *config.Tree) *slog.Logger {
	level := slog.LevelInfo
	if s, err := tree.String("log_level"); err == nil {
		level = config.ParseLogLevel(s)
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})).
		With("run_id", uuid.NewString())
	slog.SetDefault(logger)
	logger.Debug("config resolved", "source", tree.Source(), "keys", len(tree.Keys()))
	return logger
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "jointist",
		Short:         "Audio to multi-instrument MIDI transcription",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	ctx.bindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newPredictCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newCheckpointCommand(ctx))

	return rootCmd
}
