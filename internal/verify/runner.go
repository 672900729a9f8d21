// Package verify runs the locked-paywall checklist against a live page.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/x402labs/paywall-verify/internal/browser"
)

const closeTimeout = 30 * time.Second

// ArtifactWriter stores a named file and returns where it went.
type ArtifactWriter interface {
	Write(name string, data []byte) (string, error)
}

// Runner executes the checklist once per Run call.
type Runner struct {
	driver    browser.Driver
	artifacts ArtifactWriter
	opts      Options
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewRunner creates a runner. The driver is not launched until Run.
func NewRunner(driver browser.Driver, artifacts ArtifactWriter, opts Options, logger *zap.Logger) *Runner {
	return &Runner{
		driver:    driver,
		artifacts: artifacts,
		opts:      opts,
		logger:    logger.Named("runner"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// runState carries the browser handles between steps.
type runState struct {
	session browser.Session
	desktop browser.Page
	mobile  browser.Page
	report  *Report
}

type step struct {
	name string
	kind StepKind
	run  func(ctx context.Context, st *runState) error
}

func (r *Runner) steps() []step {
	o := r.opts
	steps := []step{
		{"launch browser", KindSession, r.launch},
		{"open desktop page", KindContext, func(ctx context.Context, st *runState) (err error) {
			st.desktop, err = r.openPage(ctx, st, o.Desktop)
			return err
		}},
		{"load desktop page", KindNavigation, func(ctx context.Context, st *runState) error {
			r.logger.Info("Navigating to home page.", zap.String("url", o.TargetURL))
			return r.load(ctx, st.desktop)
		}},
		{"heading visible", KindExpect, func(ctx context.Context, st *runState) error {
			r.logger.Info("Verifying locked state.", zap.Stringer("viewport", o.Desktop))
			return r.expectVisible(ctx, st.desktop, o.HeadingText)
		}},
		{"gated content hidden", KindExpect, func(ctx context.Context, st *runState) error {
			return r.expectHidden(ctx, st.desktop, o.GatedText)
		}},
		{"purchase buttons counted", KindExpect, func(ctx context.Context, st *runState) error {
			return r.expectCount(ctx, st.desktop, o.PurchaseRole, o.PurchaseName, o.PurchaseCount)
		}},
		{"desktop screenshot", KindScreenshot, func(ctx context.Context, st *runState) error {
			return r.screenshot(ctx, st, st.desktop, o.DesktopScreenshot)
		}},
		{"accept dialogs", KindDialog, func(ctx context.Context, st *runState) error {
			return st.desktop.AutoAcceptDialogs(ctx)
		}},
		{"click purchase button", KindClick, func(ctx context.Context, st *runState) error {
			// No wallet is connected, so the page answers with an alert that
			// the dialog handler dismisses.
			return st.desktop.ClickRole(ctx, o.PurchaseRole, o.PurchaseName, 0)
		}},
		{"placeholder visible", KindExpect, func(ctx context.Context, st *runState) error {
			return r.expectVisible(ctx, st.desktop, o.PlaceholderText)
		}},
	}
	for _, text := range o.ExtraVisibleTexts {
		steps = append(steps, step{fmt.Sprintf("text %q visible", text), KindExpect, func(ctx context.Context, st *runState) error {
			return r.expectVisible(ctx, st.desktop, text)
		}})
	}
	return append(steps,
		step{"open mobile page", KindContext, func(ctx context.Context, st *runState) (err error) {
			r.logger.Info("Verifying mobile view.", zap.Stringer("viewport", o.Mobile))
			st.mobile, err = r.openPage(ctx, st, o.Mobile)
			return err
		}},
		step{"load mobile page", KindNavigation, func(ctx context.Context, st *runState) error {
			return r.load(ctx, st.mobile)
		}},
		step{"mobile screenshot", KindScreenshot, func(ctx context.Context, st *runState) error {
			return r.screenshot(ctx, st, st.mobile, o.MobileScreenshot)
		}},
	)
}

// Run executes every step in order and stops at the first failure. The
// browser session is closed exactly once before Run returns, even when ctx
// has been canceled. The report is always non-nil.
func (r *Runner) Run(ctx context.Context) (report *Report, err error) {
	report = &Report{
		RunID:       r.newID(),
		TargetURL:   r.opts.TargetURL,
		Driver:      r.driver.Name(),
		StartedAt:   r.now(),
		Steps:       []StepResult{},
		Screenshots: []string{},
	}
	st := &runState{report: report}
	logger := r.logger.With(zap.String("run_id", report.RunID), zap.String("driver", report.Driver))

	steps := r.steps()
	defer func() {
		err = r.release(ctx, st, len(steps)+1, err)
		r.finish(report, err)
		if err != nil {
			logger.Error("Verification failed.", zap.Error(err))
		} else {
			logger.Info("Verification passed.", zap.Duration("duration", report.Duration()))
		}
	}()

	for i, s := range steps {
		res := StepResult{Index: i + 1, Name: s.name, Kind: s.kind}
		if err != nil {
			res.Status = StepSkipped
			report.Steps = append(report.Steps, res)
			continue
		}

		start := r.now()
		stepErr := s.run(ctx, st)
		res.Duration = r.now().Sub(start)
		if stepErr != nil {
			res.Status = StepFailed
			res.Message = stepErr.Error()
			err = &StepError{Step: s.name, Class: classify(stepErr), Err: stepErr}
		} else {
			res.Status = StepPassed
			logger.Debug("Step passed.", zap.Int("index", res.Index), zap.String("step", s.name), zap.Duration("duration", res.Duration))
		}
		report.Steps = append(report.Steps, res)
	}
	return report, err
}

func (r *Runner) launch(ctx context.Context, st *runState) error {
	session, err := r.driver.Launch(ctx)
	if err != nil {
		return err
	}
	st.session = session
	return nil
}

func (r *Runner) openPage(ctx context.Context, st *runState, vp browser.Viewport) (browser.Page, error) {
	pg, err := st.session.NewPage(ctx, vp)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s page: %w", vp, err)
	}
	return pg, nil
}

func (r *Runner) load(ctx context.Context, pg browser.Page) error {
	if err := pg.Navigate(ctx, r.opts.TargetURL); err != nil {
		return err
	}
	return pg.WaitForNetworkIdle(ctx)
}

func (r *Runner) screenshot(ctx context.Context, st *runState, pg browser.Page, name string) error {
	data, err := pg.Screenshot(ctx)
	if err != nil {
		return err
	}
	path, err := r.artifacts.Write(name, data)
	if err != nil {
		return err
	}
	st.report.Screenshots = append(st.report.Screenshots, path)
	r.logger.Info("Screenshot taken.", zap.String("path", path))
	return nil
}

// release closes the session if one was opened and records the final step.
// A close failure only fails a run that had otherwise passed.
func (r *Runner) release(ctx context.Context, st *runState, index int, runErr error) error {
	res := StepResult{Index: index, Name: "close browser", Kind: KindSession}
	if st.session == nil {
		res.Status = StepSkipped
		st.report.Steps = append(st.report.Steps, res)
		return runErr
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()

	start := r.now()
	closeErr := st.session.Close(cleanupCtx)
	res.Duration = r.now().Sub(start)
	st.session = nil
	if closeErr == nil {
		res.Status = StepPassed
		st.report.Steps = append(st.report.Steps, res)
		return runErr
	}

	res.Status = StepFailed
	res.Message = closeErr.Error()
	st.report.Steps = append(st.report.Steps, res)
	if runErr != nil {
		r.logger.Warn("Failed to close browser after a failed run.", zap.Error(closeErr))
		return runErr
	}
	return &StepError{Step: res.Name, Class: ClassEnvironment, Err: closeErr}
}

func (r *Runner) finish(report *Report, err error) {
	report.FinishedAt = r.now()
	if err == nil {
		report.Status = StatusPassed
		return
	}
	report.Status = StatusFailed
	report.FailureClass = ClassOf(err)
	if report.FailureClass == "" {
		report.FailureClass = ClassEnvironment
	}
	report.Error = err.Error()
}
