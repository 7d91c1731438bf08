package cli

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/hub-lending/internal/queue"
	"github.com/iliyamo/hub-lending/internal/repository"
	"github.com/iliyamo/hub-lending/internal/scheduler"
)

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	Relay bool
}

// sweepReport is printed after a sweep.
type sweepReport struct {
	scheduler.SweepResult
	Published int `json:"published"`
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance sweep and print what it did",
		Long: `Run one sweep: expire uncollected requests, mark overdue loans, emit
due reminders and lift elapsed restrictions.  Sweeps are idempotent and
safe to run alongside a serving process, e.g. from cron.

Example:
  hublend sweep
  hublend sweep --relay`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.Relay, "relay", false, "publish pending outbox events after the sweep")

	return cmd
}

func runSweep(ctx context.Context, opts *SweepOptions, out io.Writer) error {
	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	res, sweepErr := a.scheduler().RunOnce(ctx)
	report := sweepReport{SweepResult: res}

	if opts.Relay {
		pub, err := queue.NewPublisher(a.cfg.Broker, a.log)
		if err != nil {
			return err
		}
		defer pub.Close()
		relay := queue.NewRelay(repository.NewOutboxRepo(a.db), pub, a.log, a.clock, a.cfg.Scheduler.OutboxRelayInterval)
		for {
			n, err := relay.RunOnce(ctx)
			report.Published += n
			if err != nil {
				a.log.Warn("relay stopped early", zap.Error(err))
				break
			}
			if n == 0 {
				break
			}
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	return sweepErr
}
