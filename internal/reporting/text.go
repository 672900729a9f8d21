package reporting

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/x402labs/paywall-verify/internal/verify"
)

type textReporter struct {
	w io.WriteCloser
}

var statusMarks = map[verify.StepStatus]string{
	verify.StepPassed:  "ok",
	verify.StepFailed:  "FAIL",
	verify.StepSkipped: "skip",
}

func (r *textReporter) Write(report *verify.Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "run:     %s\n", report.RunID)
	fmt.Fprintf(&b, "target:  %s\n", report.TargetURL)
	fmt.Fprintf(&b, "driver:  %s\n", report.Driver)
	fmt.Fprintf(&b, "result:  %s (%d/%d steps passed in %s)\n",
		strings.ToUpper(string(report.Status)), report.Count(verify.StepPassed), len(report.Steps),
		report.Duration().Round(time.Millisecond))
	if report.FailureClass != "" {
		fmt.Fprintf(&b, "class:   %s\n", report.FailureClass)
	}
	b.WriteString("\n")

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, s := range report.Steps {
		fmt.Fprintf(tw, "  [%s]\t%d\t%s\t%s\t%s\n", statusMarks[s.Status], s.Index, s.Name, formatDuration(s), s.Message)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to format steps: %w", err)
	}

	if len(report.Screenshots) > 0 {
		b.WriteString("\nscreenshots:\n")
		for _, path := range report.Screenshots {
			fmt.Fprintf(&b, "  %s\n", path)
		}
	}
	b.WriteString("\n")

	if _, err := io.WriteString(r.w, b.String()); err != nil {
		return fmt.Errorf("failed to write text report: %w", err)
	}
	return nil
}

func formatDuration(s verify.StepResult) string {
	if s.Status == verify.StepSkipped {
		return "-"
	}
	return s.Duration.Round(time.Millisecond).String()
}

func (r *textReporter) Close() error { return r.w.Close() }
