package reporting

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/beevik/etree"

	"github.com/x402labs/paywall-verify/internal/verify"
)

const suiteName = "paywall-verify"

// junitReporter collects runs and writes a single <testsuites> document on
// Close, one <testsuite> per run and one <testcase> per step.
type junitReporter struct {
	w io.WriteCloser

	mu      sync.Mutex
	reports []*verify.Report
}

func newJUnitReporter(w io.WriteCloser) *junitReporter {
	return &junitReporter{w: w}
}

func (r *junitReporter) Write(report *verify.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *junitReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := buildJUnit(r.reports)
	if _, err := doc.WriteTo(r.w); err != nil {
		_ = r.w.Close()
		return fmt.Errorf("failed to write junit report: %w", err)
	}
	return r.w.Close()
}

func buildJUnit(reports []*verify.Report) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	suites := doc.CreateElement("testsuites")
	suites.CreateAttr("name", suiteName)

	var tests, failures, skipped int
	var total time.Duration
	for _, report := range reports {
		addSuite(suites, report)
		tests += len(report.Steps)
		failures += report.Count(verify.StepFailed)
		skipped += report.Count(verify.StepSkipped)
		total += report.Duration()
	}
	suites.CreateAttr("tests", strconv.Itoa(tests))
	suites.CreateAttr("failures", strconv.Itoa(failures))
	suites.CreateAttr("skipped", strconv.Itoa(skipped))
	suites.CreateAttr("time", seconds(total))

	doc.Indent(2)
	return doc
}

func addSuite(parent *etree.Element, report *verify.Report) {
	suite := parent.CreateElement("testsuite")
	suite.CreateAttr("name", suiteName)
	suite.CreateAttr("id", report.RunID)
	suite.CreateAttr("tests", strconv.Itoa(len(report.Steps)))
	suite.CreateAttr("failures", strconv.Itoa(report.Count(verify.StepFailed)))
	suite.CreateAttr("errors", "0")
	suite.CreateAttr("skipped", strconv.Itoa(report.Count(verify.StepSkipped)))
	suite.CreateAttr("time", seconds(report.Duration()))
	suite.CreateAttr("timestamp", report.StartedAt.UTC().Format(time.RFC3339))

	props := suite.CreateElement("properties")
	for _, kv := range [][2]string{
		{"run_id", report.RunID},
		{"target_url", report.TargetURL},
		{"driver", report.Driver},
		{"status", string(report.Status)},
	} {
		p := props.CreateElement("property")
		p.CreateAttr("name", kv[0])
		p.CreateAttr("value", kv[1])
	}

	first := report.FailedStep()
	for i := range report.Steps {
		s := &report.Steps[i]
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("name", fmt.Sprintf("%02d %s", s.Index, s.Name))
		tc.CreateAttr("classname", suiteName+"."+string(s.Kind))
		tc.CreateAttr("time", seconds(s.Duration))

		switch s.Status {
		case verify.StepFailed:
			class := verify.ClassEnvironment
			if s == first && report.FailureClass != "" {
				class = report.FailureClass
			}
			f := tc.CreateElement("failure")
			f.CreateAttr("message", s.Message)
			f.CreateAttr("type", string(class))
			f.SetText(s.Message)
		case verify.StepSkipped:
			tc.CreateElement("skipped")
		}
	}
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
