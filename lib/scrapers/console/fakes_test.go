package console

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"consoleharvest/lib/browser"
	"consoleharvest/lib/captcha"
)

var errNotReadyForTest = captcha.ErrNotReady

// fakePage is what the fake browser pretends to render at one path.
type fakePage struct {
	loginForm bool
	metaToken string
	siteKey   string
}

type fakeBrowser struct {
	mu         sync.Mutex
	pages      map[string]fakePage
	cookies    map[string]string
	current    string
	navigated  []string
	fills      []string
	challenge  string
	submits    int
	// invoked on form submission, simulates the server reacting to it
	onSubmit func(b *fakeBrowser)
}

var _ browser.Driver = (*fakeBrowser)(nil)

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		pages:   map[string]fakePage{},
		cookies: map[string]string{},
	}
}

func pathOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return parsed.Path
}

func (b *fakeBrowser) Navigate(_ context.Context, target string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = pathOf(target)
	b.navigated = append(b.navigated, b.current)
	return nil
}

func (b *fakeBrowser) WaitUntilReady(context.Context, time.Duration) error {
	return nil
}

func (b *fakeBrowser) EvaluateScript(_ context.Context, js string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	page := b.pages[b.current]
	switch {
	case strings.Contains(js, `meta[name="csrf-token"]`):
		return page.metaToken, nil
	case strings.Contains(js, "identity && secret"):
		if page.loginForm {
			return "present", nil
		}
		return "", nil
	case strings.Contains(js, "field.value ="):
		b.fills = append(b.fills, js)
		return "ok", nil
	case strings.Contains(js, "dataset.sitekey"):
		return page.siteKey, nil
	case strings.Contains(js, "g-recaptcha-response"):
		b.challenge = js
		return "ok", nil
	case strings.Contains(js, "form.submit()"):
		b.submits++
		if b.onSubmit != nil {
			b.onSubmit(b)
		}
		return "ok", nil
	case strings.Contains(js, "data-scope-id"):
		return "ok", nil
	}
	return "", nil
}

func (b *fakeBrowser) Cookies(context.Context) ([]browser.Cookie, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []browser.Cookie
	for name, value := range b.cookies {
		out = append(out, browser.Cookie{Name: name, Value: value, Path: "/"})
	}
	return out, nil
}

func (b *fakeBrowser) InjectCookies(_ context.Context, cookies []browser.Cookie) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ck := range cookies {
		b.cookies[ck.Name] = ck.Value
	}
	return nil
}

func (b *fakeBrowser) Close(context.Context) error {
	return nil
}

func (b *fakeBrowser) navigationCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.navigated)
}

// fakeSolver answers with ErrNotReady a configured number of times
// before handing the token over.
type fakeSolver struct {
	mu          sync.Mutex
	token       string
	pendingFor  int
	polls       int
	submits     int
	submitError error
	pollError   error
}

func (s *fakeSolver) Submit(context.Context, string, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	if s.submitError != nil {
		return "", s.submitError
	}
	return "job-1", nil
}

func (s *fakeSolver) Poll(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.pollError != nil {
		return "", s.pollError
	}
	if s.polls <= s.pendingFor {
		return "", errNotReadyForTest
	}
	return s.token, nil
}
