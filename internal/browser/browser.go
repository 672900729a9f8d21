// Package browser defines the driver-neutral contracts the verification
// runner drives a browser through.
package browser

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/x402labs/paywall-verify/internal/config"
)

// ErrSessionClosed is returned by Session.NewPage after Close.
var ErrSessionClosed = errors.New("browser session is closed")

// Viewport is the size of a browsing context in CSS pixels.
type Viewport = config.Viewport

// TextState describes the elements matching a text query at one instant.
// Attached counts matches present in the DOM, Visible the subset that render
// with a non-empty box.
type TextState struct {
	Attached int `json:"attached"`
	Visible  int `json:"visible"`
}

// Driver launches browser sessions backed by one automation library.
type Driver interface {
	Name() string
	Launch(ctx context.Context) (Session, error)
}

// Session is one running browser. Every page it hands out lives in its own
// isolated browsing context.
type Session interface {
	NewPage(ctx context.Context, vp Viewport) (Page, error)
	// Close releases every page and the browser itself. Calling it more than
	// once is safe and returns the result of the first call.
	Close(ctx context.Context) error
}

// Page is a single tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitForNetworkIdle returns once no request has been in flight for the
	// driver's quiet period, or fails when ctx is done first.
	WaitForNetworkIdle(ctx context.Context) error
	TextState(ctx context.Context, text string) (TextState, error)
	RoleCount(ctx context.Context, role, name string) (int, error)
	ClickRole(ctx context.Context, role, name string, nth int) error
	// AutoAcceptDialogs accepts every alert, confirm and prompt raised by
	// the page from now on.
	AutoAcceptDialogs(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// LaunchOptions is the driver-neutral subset of the configuration.
type LaunchOptions struct {
	Headless            bool
	Install             bool
	ExecPath            string
	Args                []string
	LaunchTimeout       time.Duration
	NavigationTimeout   time.Duration
	NetworkIdleQuiet    time.Duration
	FullPageScreenshots bool
}

// LaunchOptionsFromConfig collects the options every driver understands.
func LaunchOptionsFromConfig(cfg config.Interface) LaunchOptions {
	return LaunchOptions{
		Headless:            cfg.Browser().Headless,
		Install:             cfg.Browser().Install,
		ExecPath:            cfg.Browser().ExecPath,
		Args:                cfg.Browser().Args,
		LaunchTimeout:       cfg.Browser().LaunchTimeout,
		NavigationTimeout:   cfg.Target().NavigationTimeout,
		NetworkIdleQuiet:    cfg.Target().NetworkIdleQuiet,
		FullPageScreenshots: cfg.Output().FullPage,
	}
}

// Flag is a parsed command-line switch for Chromium.
type Flag struct {
	Name  string
	Value string
	// Bool is set for switches given without "=value".
	Bool bool
}

// ParseArgs turns "--name=value" and "--name" strings into flags. Leading
// dashes are optional and stripped; empty entries are dropped.
func ParseArgs(args []string) []Flag {
	flags := make([]Flag, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		name, value, found := strings.Cut(arg, "=")
		flags = append(flags, Flag{Name: name, Value: value, Bool: !found})
	}
	return flags
}

// ContainerArgs are switches needed to run Chromium as root inside a
// container or CI sandbox.
var ContainerArgs = []string{
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--disable-gpu",
}
