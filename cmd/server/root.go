package main

import (
	"github.com/spf13/cobra"

	"github.com/rpattn/phenobatch/internal/config"
)

type globalOptions struct {
	configDir string
	envFiles  []string

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "phenobatch",
		Short:         "Batch ingestion engine for organism and trait files",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadEnvFiles(opts.envFiles...); err != nil {
				return err
			}
			cfg, err := config.Load(opts.configDir)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", ".", "Directory holding config.yaml")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env", ".env.local"}, "Env files loaded before the config (missing files are skipped)")

	cmd.AddCommand(
		newServeCmd(opts),
		newRunOnceCmd(opts),
		newMigrateCmd(opts),
		newJobsCmd(opts),
	)
	return cmd
}
