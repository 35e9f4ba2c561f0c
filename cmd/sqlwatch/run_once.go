package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sznuper/sqlwatch/internal/app"
	"github.com/sznuper/sqlwatch/internal/probe"
	"github.com/sznuper/sqlwatch/internal/runner"
)

var runOnceCmd = &cobra.Command{
	Use:   "run-once [probe]",
	Short: "Run probes once and exit",
	Long: "Runs a single probe by name, or every probe if no name is given, and delivers any alerts. " +
		"Exits 1 if any probe alerted or failed. Use --dry-run to skip delivery.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := setupLogger(cfg.Options)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}

		var results []runner.Result
		if len(args) == 1 {
			p, ok := a.Registry.Get(args[0])
			if !ok {
				_ = a.Close()
				return fmt.Errorf("probe %q not found in config", args[0])
			}
			results = append(results, a.Runner.RunProbe(ctx, p))
		} else {
			results = a.Runner.RunAll(ctx, a.Registry.List())
		}

		st := newStyles()
		out := cmd.OutOrStdout()
		for _, res := range results {
			delivery := deliver(ctx, a, res, dryRun)
			printResult(out, st, res, delivery)
		}
		healthy := printSummary(out, st, results)

		if err := a.Close(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
		if !healthy {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	runOnceCmd.Flags().Bool("dry-run", false, "evaluate probes without delivering alerts")
	rootCmd.AddCommand(runOnceCmd)
}

// deliveryReport describes what happened to a result's alert.
type deliveryReport struct {
	Targets []string
	DryRun  bool
	Err     error
}

func deliver(ctx context.Context, a *app.App, res runner.Result, dryRun bool) deliveryReport {
	if res.Alert == nil {
		return deliveryReport{}
	}
	p, _ := a.Registry.Get(res.Probe)
	targets := p.Notify
	if len(targets) == 0 {
		targets = a.Dispatcher.Sinks()
	}
	rep := deliveryReport{Targets: targets, DryRun: dryRun}
	if !dryRun {
		rep.Err = a.Dispatcher.Emit(ctx, *res.Alert, p.Notify)
	}
	return rep
}

func printResult(w io.Writer, st styles, res runner.Result, rep deliveryReport) {
	switch res.State {
	case probe.StateOK:
		fmt.Fprintf(w, "%s %s %s\n", st.OK.Render("✓"), st.Bold.Render(res.Probe), st.Dim.Render(fmt.Sprintf("(%d rows, %s)", res.Outcome.RowCount, res.Duration.Round(time.Millisecond))))
		return
	case probe.StateAlert:
		fmt.Fprintf(w, "%s %s [%s]\n", st.Alert.Render("!"), st.Bold.Render(res.Probe), st.severity(res.Severity))
	default:
		fmt.Fprintf(w, "%s %s\n", st.Failed.Render("✗"), st.Bold.Render(res.Probe))
		if res.Err != nil {
			fmt.Fprintf(w, "  Error (%s): %s\n", res.ErrStage, res.Err)
		}
	}

	if res.Alert != nil {
		fmt.Fprintf(w, "  Alert: %s\n", res.Alert.Message)
	}
	if len(rep.Targets) > 0 {
		label := "Notified"
		if rep.DryRun {
			label = "Would notify"
		}
		fmt.Fprintf(w, "  %s: %s\n", label, strings.Join(rep.Targets, ", "))
	}
	if rep.Err != nil {
		fmt.Fprintf(w, "  Delivery error: %s\n", rep.Err)
	}
}

// printSummary prints totals and lists every probe that alerted or failed.
// It reports whether all probes were healthy.
func printSummary(w io.Writer, st styles, results []runner.Result) bool {
	var ok int
	var alerting, failed []string
	for _, res := range results {
		switch res.State {
		case probe.StateOK:
			ok++
		case probe.StateAlert:
			alerting = append(alerting, res.Probe)
		default:
			failed = append(failed, res.Probe)
		}
	}

	fmt.Fprintf(w, "\n%d probes: %s, %s, %s\n", len(results),
		st.OK.Render(fmt.Sprintf("%d ok", ok)),
		st.Alert.Render(fmt.Sprintf("%d alerting", len(alerting))),
		st.Failed.Render(fmt.Sprintf("%d failed", len(failed))),
	)
	if len(alerting) > 0 {
		fmt.Fprintf(w, "  alerting: %s\n", strings.Join(alerting, ", "))
	}
	if len(failed) > 0 {
		fmt.Fprintf(w, "  failed: %s\n", strings.Join(failed, ", "))
	}
	return len(alerting) == 0 && len(failed) == 0
}
