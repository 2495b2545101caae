// Package browser wraps interactive browser automation behind a narrow
// capability interface so that scraping logic can be exercised against a
// fake implementation without a real browser.
package browser

import (
	"context"
	"time"
)

type Cookie struct {
	Name    string
	Value   string
	Domain  string
	Path    string
	Expires time.Time
}

type Driver interface {
	Navigate(ctx context.Context, url string) error
	// WaitUntilReady blocks until the current document finished loading,
	// or the timeout elapses.
	WaitUntilReady(ctx context.Context, timeout time.Duration) error
	// EvaluateScript runs a javascript expression in the page and returns
	// its result coerced to a string. A null/undefined result yields "".
	EvaluateScript(ctx context.Context, js string) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	InjectCookies(ctx context.Context, cookies []Cookie) error
	Close(ctx context.Context) error
}
