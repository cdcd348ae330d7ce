package main

import (
	"github.com/spf13/cobra"
)

func newRunOnceCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Claim and process the oldest submitted job, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(opts.cfg.Log)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), opts.cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.scheduler.Tick(cmd.Context())
			if err != nil {
				return err
			}
			if job == nil {
				log.Info("no submitted jobs")
				return nil
			}
			return writeJSON(job)
		},
	}
}
