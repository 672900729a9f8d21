package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/x402labs/paywall-verify/internal/browser"
	"github.com/x402labs/paywall-verify/internal/config"
)

var (
	desktop = browser.Viewport{Width: 1280, Height: 800}
	mobile  = browser.Viewport{Width: 390, Height: 844}
)

func testOptions() Options {
	opts := OptionsFromConfig(config.NewDefaultConfig())
	opts.AssertionTimeout = 150 * time.Millisecond
	opts.PollInterval = 10 * time.Millisecond
	return opts
}

func newTestRunner(t *testing.T, d *fakeDriver, a *memArtifacts, opts Options) *Runner {
	r := NewRunner(d, a, opts, zaptest.NewLogger(t))
	r.newID = func() string { return "run-1" }
	return r
}

type stepSummary struct {
	Index  int
	Name   string
	Status StepStatus
}

func summarize(r *Report) []stepSummary {
	out := make([]stepSummary, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = stepSummary{s.Index, s.Name, s.Status}
	}
	return out
}

var stepNames = []string{
	"launch browser",
	"open desktop page",
	"load desktop page",
	"heading visible",
	"gated content hidden",
	"purchase buttons counted",
	"desktop screenshot",
	"accept dialogs",
	"click purchase button",
	"placeholder visible",
	"open mobile page",
	"load mobile page",
	"mobile screenshot",
	"close browser",
}

// expectedSteps marks every step before failed as passed, failed as failed,
// and the rest skipped except for the final close, which gets closeStatus.
func expectedSteps(names []string, failed string, closeStatus StepStatus) []stepSummary {
	out := make([]stepSummary, len(names))
	status := StepPassed
	for i, n := range names {
		s := status
		if n == failed {
			s = StepFailed
			status = StepSkipped
		}
		out[i] = stepSummary{i + 1, n, s}
	}
	out[len(out)-1].Status = closeStatus
	return out
}

func TestRunPasses(t *testing.T) {
	d := newFakeDriver()
	a := newMemArtifacts()

	report, err := newTestRunner(t, d, a, testOptions()).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, StatusPassed, report.Status)
	assert.True(t, report.Passed())
	assert.Empty(t, report.FailureClass)
	assert.Empty(t, report.Error)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, "fake", report.Driver)
	assert.Equal(t, "http://localhost:3000", report.TargetURL)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
	assert.Nil(t, report.FailedStep())

	if diff := cmp.Diff(expectedSteps(stepNames, "", StepPassed), summarize(report)); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []browser.Viewport{desktop, mobile}, d.session.viewports)
	assert.Equal(t, 1, d.session.closeCalls)
	assert.Equal(t, []string{"/out/1_desktop_locked.png", "/out/2_mobile_locked.png"}, report.Screenshots)
	assert.Equal(t, []byte("png-1280x800"), a.files["1_desktop_locked.png"])
	assert.Equal(t, []byte("png-390x844"), a.files["2_mobile_locked.png"])

	want := []string{
		"launch",
		"new page 1280x800",
		"navigate 1280x800 http://localhost:3000",
		"network idle 1280x800",
		"screenshot 1280x800",
		"accept dialogs 1280x800",
		"click 1280x800 button/Buy for #0",
		"new page 390x844",
		"navigate 390x844 http://localhost:3000",
		"network idle 390x844",
		"screenshot 390x844",
		"close",
	}
	if diff := cmp.Diff(want, d.log.all()); diff != "" {
		t.Errorf("browser calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunLaunchFailure(t *testing.T) {
	d := newFakeDriver()
	d.launchErr = errBoom

	report, err := newTestRunner(t, d, newMemArtifacts(), testOptions()).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, ClassEnvironment, ClassOf(err))

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "launch browser", se.Step)

	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, ClassEnvironment, report.FailureClass)
	if diff := cmp.Diff(expectedSteps(stepNames, "launch browser", StepSkipped), summarize(report)); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
	assert.Zero(t, d.session.closeCalls)
	assert.Empty(t, report.Screenshots)
}

func TestRunAssertionFailures(t *testing.T) {
	tests := []struct {
		name   string
		step   string
		mutate func(p *fakePage)
		seen   string
	}{
		{
			name:   "heading missing",
			step:   "heading visible",
			mutate: func(p *fakePage) { delete(p.texts, "X402 Creator Platform") },
			seen:   "last observed 0 attached, 0 visible",
		},
		{
			name:   "heading attached but hidden",
			step:   "heading visible",
			mutate: func(p *fakePage) { p.texts["X402 Creator Platform"] = browser.TextState{Attached: 1} },
			seen:   "last observed 1 attached, 0 visible",
		},
		{
			name: "gated content rendered",
			step: "gated content hidden",
			mutate: func(p *fakePage) {
				p.texts["The Future of Cross-Chain Payments"] = browser.TextState{Attached: 1, Visible: 1}
			},
			seen: "last observed 1 attached, 1 visible",
		},
		{
			name:   "one purchase button too many",
			step:   "purchase buttons counted",
			mutate: func(p *fakePage) { p.roles["button/Buy for"] = 3 },
			seen:   "last observed 3",
		},
		{
			name:   "single purchase button",
			step:   "purchase buttons counted",
			mutate: func(p *fakePage) { p.roles["button/Buy for"] = 1 },
			seen:   "last observed 1",
		},
		{
			name:   "placeholder missing",
			step:   "placeholder visible",
			mutate: func(p *fakePage) { delete(p.texts, "Exclusive Analysis") },
			seen:   "last observed 0 attached, 0 visible",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDriver()
			d.session.newPage = func(vp browser.Viewport) *fakePage {
				p := newLockedPage(d.log, vp)
				tt.mutate(p)
				return p
			}

			report, err := newTestRunner(t, d, newMemArtifacts(), testOptions()).Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrAssertionFailed)
			assert.Equal(t, ClassAssertion, ClassOf(err))
			assert.Contains(t, err.Error(), tt.seen)

			assert.Equal(t, StatusFailed, report.Status)
			assert.Equal(t, ClassAssertion, report.FailureClass)
			require.NotNil(t, report.FailedStep())
			assert.Equal(t, tt.step, report.FailedStep().Name)
			if diff := cmp.Diff(expectedSteps(stepNames, tt.step, StepPassed), summarize(report)); diff != "" {
				t.Errorf("steps mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, 1, d.session.closeCalls)
		})
	}
}

func TestRunEnvironmentFailures(t *testing.T) {
	tests := []struct {
		name    string
		step    string
		prepare func(d *fakeDriver, a *memArtifacts)
	}{
		{
			name: "desktop page cannot open",
			step: "open desktop page",
			prepare: func(d *fakeDriver, _ *memArtifacts) {
				d.session.newPageErr = errBoom
			},
		},
		{
			name: "target unreachable",
			step: "load desktop page",
			prepare: func(d *fakeDriver, _ *memArtifacts) {
				d.session.newPage = func(vp browser.Viewport) *fakePage {
					p := newLockedPage(d.log, vp)
					p.navigateErr = errBoom
					return p
				}
			},
		},
		{
			name: "network never idle",
			step: "load desktop page",
			prepare: func(d *fakeDriver, _ *memArtifacts) {
				d.session.newPage = func(vp browser.Viewport) *fakePage {
					p := newLockedPage(d.log, vp)
					p.idleErr = errBoom
					return p
				}
			},
		},
		{
			name: "screenshot cannot be written",
			step: "desktop screenshot",
			prepare: func(_ *fakeDriver, a *memArtifacts) {
				a.err = errBoom
			},
		},
		{
			name: "click fails",
			step: "click purchase button",
			prepare: func(d *fakeDriver, _ *memArtifacts) {
				d.session.newPage = func(vp browser.Viewport) *fakePage {
					p := newLockedPage(d.log, vp)
					p.clickErr = errBoom
					return p
				}
			},
		},
		{
			name: "mobile screenshot fails",
			step: "mobile screenshot",
			prepare: func(d *fakeDriver, _ *memArtifacts) {
				d.session.newPage = func(vp browser.Viewport) *fakePage {
					p := newLockedPage(d.log, vp)
					if vp == mobile {
						p.shotErr = errBoom
					}
					return p
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDriver()
			a := newMemArtifacts()
			tt.prepare(d, a)

			report, err := newTestRunner(t, d, a, testOptions()).Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, errBoom)
			assert.NotErrorIs(t, err, ErrAssertionFailed)
			assert.Equal(t, ClassEnvironment, ClassOf(err))
			assert.Equal(t, ClassEnvironment, report.FailureClass)
			if diff := cmp.Diff(expectedSteps(stepNames, tt.step, StepPassed), summarize(report)); diff != "" {
				t.Errorf("steps mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, 1, d.session.closeCalls)
		})
	}
}

func TestRunCloseFailure(t *testing.T) {
	t.Run("fails an otherwise passing run", func(t *testing.T) {
		d := newFakeDriver()
		d.session.closeErr = errBoom

		report, err := newTestRunner(t, d, newMemArtifacts(), testOptions()).Run(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, ClassEnvironment, ClassOf(err))
		assert.Equal(t, StatusFailed, report.Status)
		if diff := cmp.Diff(expectedSteps(stepNames, "close browser", StepFailed), summarize(report)); diff != "" {
			t.Errorf("steps mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, 1, d.session.closeCalls)
	})

	t.Run("keeps the first failure", func(t *testing.T) {
		d := newFakeDriver()
		d.session.closeErr = errors.New("close failed")
		d.session.newPage = func(vp browser.Viewport) *fakePage {
			p := newLockedPage(d.log, vp)
			delete(p.texts, "X402 Creator Platform")
			return p
		}

		report, err := newTestRunner(t, d, newMemArtifacts(), testOptions()).Run(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAssertionFailed)
		assert.Equal(t, ClassAssertion, report.FailureClass)
		assert.Equal(t, StepFailed, report.Steps[len(report.Steps)-1].Status)
		assert.Equal(t, 2, report.Count(StepFailed))
	})
}

func TestRunCanceledStillCloses(t *testing.T) {
	d := newFakeDriver()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.session.newPage = func(vp browser.Viewport) *fakePage {
		p := newLockedPage(d.log, vp)
		p.textFn = func(text string, call int) (browser.TextState, error) {
			cancel()
			return browser.TextState{}, nil
		}
		return p
	}

	opts := testOptions()
	opts.AssertionTimeout = 5 * time.Second

	report, err := newTestRunner(t, d, newMemArtifacts(), opts).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ClassEnvironment, ClassOf(err))
	assert.Equal(t, "heading visible", report.FailedStep().Name)

	require.Equal(t, 1, d.session.closeCalls)
	assert.NoError(t, d.session.closeCtxErrs[0], "close must not inherit the canceled context")
}

func TestRunWaitsForExpectations(t *testing.T) {
	d := newFakeDriver()
	d.session.newPage = func(vp browser.Viewport) *fakePage {
		p := newLockedPage(d.log, vp)
		p.textFn = func(text string, call int) (browser.TextState, error) {
			switch {
			case text == "X402 Creator Platform" && call < 3:
				// Still hydrating.
				return browser.TextState{}, nil
			case text == "X402 Creator Platform" && call == 3:
				return browser.TextState{}, errBoom
			}
			return p.texts[text], nil
		}
		return p
	}

	report, err := newTestRunner(t, d, newMemArtifacts(), testOptions()).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Passed())
}

func TestRunExtraVisibleTexts(t *testing.T) {
	names := append(append(append([]string{}, stepNames[:10]...), `text "Premium Content" visible`), stepNames[10:]...)

	t.Run("present", func(t *testing.T) {
		opts := testOptions()
		opts.ExtraVisibleTexts = []string{"Premium Content"}

		report, err := newTestRunner(t, newFakeDriver(), newMemArtifacts(), opts).Run(context.Background())
		require.NoError(t, err)
		if diff := cmp.Diff(expectedSteps(names, "", StepPassed), summarize(report)); diff != "" {
			t.Errorf("steps mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("missing", func(t *testing.T) {
		d := newFakeDriver()
		d.session.newPage = func(vp browser.Viewport) *fakePage {
			p := newLockedPage(d.log, vp)
			delete(p.texts, "Premium Content")
			return p
		}
		opts := testOptions()
		opts.ExtraVisibleTexts = []string{"Premium Content"}

		report, err := newTestRunner(t, d, newMemArtifacts(), opts).Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, ClassAssertion, ClassOf(err))
		if diff := cmp.Diff(expectedSteps(names, `text "Premium Content" visible`, StepPassed), summarize(report)); diff != "" {
			t.Errorf("steps mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.ChecksCfg.ExtraVisibleTexts = []string{"Premium Content"}

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, "http://localhost:3000", opts.TargetURL)
	assert.Equal(t, desktop, opts.Desktop)
	assert.Equal(t, mobile, opts.Mobile)
	assert.Equal(t, "X402 Creator Platform", opts.HeadingText)
	assert.Equal(t, "The Future of Cross-Chain Payments", opts.GatedText)
	assert.Equal(t, "button", opts.PurchaseRole)
	assert.Equal(t, "Buy for", opts.PurchaseName)
	assert.Equal(t, 2, opts.PurchaseCount)
	assert.Equal(t, "Exclusive Analysis", opts.PlaceholderText)
	assert.Equal(t, []string{"Premium Content"}, opts.ExtraVisibleTexts)
	assert.Equal(t, "1_desktop_locked.png", opts.DesktopScreenshot)
	assert.Equal(t, "2_mobile_locked.png", opts.MobileScreenshot)
	assert.Equal(t, 5*time.Second, opts.AssertionTimeout)
	assert.Equal(t, 100*time.Millisecond, opts.PollInterval)

	// The options own their slice.
	cfg.ChecksCfg.ExtraVisibleTexts[0] = "changed"
	assert.Equal(t, "Premium Content", opts.ExtraVisibleTexts[0])
}
