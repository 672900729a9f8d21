package verify

import (
	"time"

	"github.com/x402labs/paywall-verify/internal/browser"
	"github.com/x402labs/paywall-verify/internal/config"
)

// Options is everything a run needs to know about the page under test.
type Options struct {
	TargetURL string

	Desktop browser.Viewport
	Mobile  browser.Viewport

	HeadingText       string
	GatedText         string
	PurchaseRole      string
	PurchaseName      string
	PurchaseCount     int
	PlaceholderText   string
	ExtraVisibleTexts []string

	DesktopScreenshot string
	MobileScreenshot  string

	AssertionTimeout time.Duration
	PollInterval     time.Duration
}

// OptionsFromConfig maps the loaded configuration onto run options.
func OptionsFromConfig(cfg config.Interface) Options {
	checks := cfg.Checks()
	return Options{
		TargetURL:         cfg.Target().URL,
		Desktop:           cfg.Viewports().Desktop,
		Mobile:            cfg.Viewports().Mobile,
		HeadingText:       checks.HeadingText,
		GatedText:         checks.GatedText,
		PurchaseRole:      checks.PurchaseRole,
		PurchaseName:      checks.PurchaseName,
		PurchaseCount:     checks.PurchaseCount,
		PlaceholderText:   checks.PlaceholderText,
		ExtraVisibleTexts: append([]string(nil), checks.ExtraVisibleTexts...),
		DesktopScreenshot: cfg.Output().DesktopScreenshot,
		MobileScreenshot:  cfg.Output().MobileScreenshot,
		AssertionTimeout:  cfg.Assertions().Timeout,
		PollInterval:      cfg.Assertions().PollInterval,
	}
}
