package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/x402labs/paywall-verify/internal/config"
	"github.com/x402labs/paywall-verify/internal/observability"
	"github.com/x402labs/paywall-verify/internal/reporting"
	"github.com/x402labs/paywall-verify/internal/service"
	"github.com/x402labs/paywall-verify/internal/verify"
)

const saveTimeout = 10 * time.Second

// flagKeys maps verify flags to the configuration keys they override.
var flagKeys = map[string]string{
	"url":           "target.url",
	"driver":        "browser.driver",
	"output-dir":    "output.dir",
	"report":        "report.output",
	"report-format": "report.format",
}

func newVerifyCmd(v *viper.Viper, factory service.ComponentFactory) *cobra.Command {
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Runs the locked-state checklist against the target page",
		Long: `Opens the target in a desktop and a mobile browsing context, checks that
the paywalled content is locked, clicks a purchase button without a wallet,
and saves one screenshot per viewport.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if headed, _ := cmd.Flags().GetBool("headed"); headed {
				cfg.SetBrowserHeadless(false)
			}
			return runVerify(ctx, cfg, factory, observability.GetLogger(), cmd.OutOrStdout())
		},
	}

	flags := verifyCmd.Flags()
	flags.String("url", "", "target URL (overrides target.url)")
	flags.String("driver", "", "browser driver: playwright, chromedp or rod")
	flags.String("output-dir", "", "directory for screenshots")
	flags.Bool("headed", false, "show the browser window")
	flags.String("report", "", `write a run report to this file, or "stdout"`)
	flags.String("report-format", "", "report format: text, json or junit")

	bindFlags(v, flags)
	return verifyCmd
}

// bindFlags lets set flags override config file and env values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func runVerify(ctx context.Context, cfg config.Interface, factory service.ComponentFactory, logger *zap.Logger, out io.Writer) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	logger.Info("Starting verification.",
		zap.String("url", cfg.Target().URL),
		zap.String("driver", cfg.Browser().Driver),
		zap.String("output_dir", cfg.Output().Dir))

	report, runErr := components.Runner.Run(ctx)

	if components.History != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
		if err := components.History.SaveRun(saveCtx, report); err != nil {
			logger.Warn("Failed to save run history.", zap.Error(err))
		}
		cancel()
	}

	if err := writeReport(cfg.Report(), report, out); err != nil {
		logger.Warn("Failed to write report.", zap.Error(err))
	}

	fmt.Fprintf(out, "%s %s (%d/%d steps passed)\n",
		summaryStatus(report), report.RunID, report.Count(verify.StepPassed), len(report.Steps))

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("verification aborted: %w", ctxErr)
		}
		return fmt.Errorf("verification failed: %w", runErr)
	}
	return nil
}

func summaryStatus(r *verify.Report) string {
	if r.Passed() {
		return "PASSED"
	}
	return fmt.Sprintf("FAILED [%s]", r.FailureClass)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// writeReport is a no-op unless report.output is set.
func writeReport(cfg config.ReportConfig, report *verify.Report, out io.Writer) error {
	var (
		r   reporting.Reporter
		err error
	)
	switch cfg.Output {
	case "":
		return nil
	case "stdout", "-":
		r, err = reporting.NewWithWriter(cfg.Format, nopCloser{out})
	default:
		r, err = reporting.New(cfg.Format, cfg.Output)
	}
	if err != nil {
		return err
	}
	if err := r.Write(report); err != nil {
		_ = r.Close()
		return err
	}
	return r.Close()
}
