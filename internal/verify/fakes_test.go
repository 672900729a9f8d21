package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/x402labs/paywall-verify/internal/browser"
)

// callLog records browser calls across the session and its pages in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) index(call string) int {
	for i, c := range l.all() {
		if c == call {
			return i
		}
	}
	return -1
}

type fakeDriver struct {
	log       *callLog
	launchErr error
	session   *fakeSession
}

func newFakeDriver() *fakeDriver {
	log := &callLog{}
	return &fakeDriver{
		log: log,
		session: &fakeSession{
			log:   log,
			pages: map[string]*fakePage{},
			newPage: func(vp browser.Viewport) *fakePage {
				return newLockedPage(log, vp)
			},
		},
	}
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Launch(ctx context.Context) (browser.Session, error) {
	d.log.add("launch")
	if d.launchErr != nil {
		return nil, d.launchErr
	}
	return d.session, nil
}

type fakeSession struct {
	log        *callLog
	newPage    func(vp browser.Viewport) *fakePage
	newPageErr error
	closeErr   error

	mu           sync.Mutex
	pages        map[string]*fakePage
	viewports    []browser.Viewport
	closeCalls   int
	closeCtxErrs []error
}

func (s *fakeSession) NewPage(ctx context.Context, vp browser.Viewport) (browser.Page, error) {
	s.log.add("new page %s", vp)
	if s.newPageErr != nil {
		return nil, s.newPageErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewports = append(s.viewports, vp)
	p := s.newPage(vp)
	s.pages[vp.String()] = p
	return p, nil
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.log.add("close")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.closeCtxErrs = append(s.closeCtxErrs, ctx.Err())
	return s.closeErr
}

// fakePage answers queries from tables. A text missing from texts is absent
// from the page.
type fakePage struct {
	log *callLog
	vp  browser.Viewport

	mu          sync.Mutex
	texts       map[string]browser.TextState
	textFn      func(text string, call int) (browser.TextState, error)
	textCalls   map[string]int
	roles       map[string]int
	navigateErr error
	idleErr     error
	clickErr    error
	shotErr     error
	shot        []byte
}

func newLockedPage(log *callLog, vp browser.Viewport) *fakePage {
	return &fakePage{
		log: log,
		vp:  vp,
		texts: map[string]browser.TextState{
			"X402 Creator Platform": {Attached: 1, Visible: 1},
			"Exclusive Analysis":    {Attached: 1, Visible: 1},
			"Premium Content":       {Attached: 2, Visible: 2},
		},
		textCalls: map[string]int{},
		roles:     map[string]int{"button/Buy for": 2},
		shot:      []byte("png-" + vp.String()),
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.log.add("navigate %s %s", p.vp, url)
	return p.navigateErr
}

func (p *fakePage) WaitForNetworkIdle(ctx context.Context) error {
	p.log.add("network idle %s", p.vp)
	return p.idleErr
}

func (p *fakePage) TextState(ctx context.Context, text string) (browser.TextState, error) {
	if err := ctx.Err(); err != nil {
		return browser.TextState{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	call := p.textCalls[text]
	p.textCalls[text] = call + 1
	if p.textFn != nil {
		return p.textFn(text, call)
	}
	return p.texts[text], nil
}

func (p *fakePage) RoleCount(ctx context.Context, role, name string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.roles[role+"/"+name], nil
}

func (p *fakePage) ClickRole(ctx context.Context, role, name string, nth int) error {
	p.log.add("click %s %s/%s #%d", p.vp, role, name, nth)
	return p.clickErr
}

func (p *fakePage) AutoAcceptDialogs(ctx context.Context) error {
	p.log.add("accept dialogs %s", p.vp)
	return nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.log.add("screenshot %s", p.vp)
	if p.shotErr != nil {
		return nil, p.shotErr
	}
	return p.shot, nil
}

type memArtifacts struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func newMemArtifacts() *memArtifacts { return &memArtifacts{files: map[string][]byte{}} }

func (a *memArtifacts) Write(name string, data []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[name] = data
	return "/out/" + name, nil
}

var errBoom = errors.New("boom")
