package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"volunteerreminder/internal/service"
)

var jobNames = []string{"reminders", "overdue", "daily"}

// NewRunCommand creates the run command.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <reminders|overdue|daily>",
		Short: "Run one job pass",
		Long: `Run one job pass.

  reminders  consolidated reminder per volunteer with open tasks
  overdue    alert every admin about each overdue task
  daily      reminders followed by overdue alerts

Examples:
  reminderctl run reminders
  reminderctl run daily --json`,
		Args:          cobra.ExactArgs(1),
		ValidArgs:     jobNames,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, opts, args[0])
		},
	}
}

func runJob(cmd *cobra.Command, opts *RootOptions, job string) error {
	switch job {
	case "reminders", "overdue", "daily":
	default:
		return fmt.Errorf("unknown job %q (want reminders, overdue or daily)", job)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger(opts)
	defer log.Sync()

	runner, closeFn, err := opts.Build(ctx, opts, log)
	if err != nil {
		return err
	}
	defer closeFn()

	out := cmd.OutOrStdout()
	switch job {
	case "daily":
		sum, err := runner.RunDaily(ctx)
		if err != nil {
			return err
		}
		if err := printDaily(out, sum, opts.JSON); err != nil {
			return err
		}
		if !sum.Complete() {
			return fmt.Errorf("daily run completed with errors")
		}
	default:
		var j service.Job = runner.Reminders
		if job == "overdue" {
			j = runner.Overdue
		}
		sum, err := j.Run(ctx)
		if err != nil {
			return err
		}
		if err := printSummary(out, sum, opts.JSON); err != nil {
			return err
		}
		if !sum.Complete() {
			return fmt.Errorf("%s run completed with errors", job)
		}
	}
	return nil
}

type summaryView struct {
	Kind         string   `json:"kind"`
	Processed    int      `json:"processed"`
	Sent         int      `json:"sent"`
	Failed       int      `json:"failed"`
	Skipped      int      `json:"skipped"`
	NotStarted   int      `json:"not_started"`
	LedgerErrors int      `json:"ledger_errors"`
	Errors       []string `json:"errors,omitempty"`
	DurationMs   int64    `json:"duration_ms"`
}

func view(s service.Summary) summaryView {
	return summaryView{
		Kind:         string(s.Kind),
		Processed:    s.Processed,
		Sent:         s.Sent,
		Failed:       s.Failed,
		Skipped:      s.Skipped,
		NotStarted:   s.NotStarted,
		LedgerErrors: s.LedgerErrors,
		Errors:       s.Errors,
		DurationMs:   s.Duration.Milliseconds(),
	}
}

func printSummary(w io.Writer, s service.Summary, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(view(s))
	}
	fmt.Fprintf(w, "%s: processed=%d sent=%d failed=%d skipped=%d not_started=%d duration=%s\n",
		s.Kind, s.Processed, s.Sent, s.Failed, s.Skipped, s.NotStarted, s.Duration)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	return nil
}

func printDaily(w io.Writer, d service.DailySummary, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(struct {
			Reminders  summaryView `json:"reminders"`
			Overdue    summaryView `json:"overdue"`
			TotalSent  int         `json:"total_sent"`
			DurationMs int64       `json:"duration_ms"`
		}{view(d.Reminders), view(d.Overdue), d.TotalSent(), d.Duration.Milliseconds()})
	}
	if err := printSummary(w, d.Reminders, false); err != nil {
		return err
	}
	return printSummary(w, d.Overdue, false)
}

// NewCheckCommand creates the check command.
func NewCheckCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "check",
		Short:         "Verify config, record store and ledger backend",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(opts)
			defer log.Sync()
			if err := opts.Check(cmd.Context(), opts, log); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
