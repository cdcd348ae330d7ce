package main

import (
	"strconv"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
)

func newJobsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect batch jobs",
	}

	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				jobs, err := a.jobs.List(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}
				return writeJSON(jobs)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs")
	list.Flags().IntVar(&offset, "offset", 0, "Jobs to skip")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				job, err := a.jobs.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				return writeJSON(job)
			})
		},
	}

	rowErrors := &cobra.Command{
		Use:   "errors ID",
		Short: "List the row errors recorded for a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				entries, err := a.errorLog.List(cmd.Context(), id, 0, 0)
				if err != nil {
					return err
				}
				return writeJSON(entries)
			})
		},
	}

	cmd.AddCommand(list, show, rowErrors)
	return cmd
}

func withApp(cmd *cobra.Command, opts *globalOptions, fn func(*app) error) error {
	log, err := newLogger(opts.cfg.Log)
	if err != nil {
		return err
	}
	a, err := buildApp(cmd.Context(), opts.cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func parseJobID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid job id %q", raw)
	}
	return id, nil
}
