package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

type ChromeOptions struct {
	Headless  bool
	NoSandbox bool
	UserAgent string
}

// Chrome drives a dedicated headless chrome instance through chromedp.
type Chrome struct {
	browserCtx   context.Context
	cancelAlloc  context.CancelFunc
	cancelTarget context.CancelFunc
}

var _ Driver = (*Chrome)(nil)

func NewChrome(ctx context.Context, opts ChromeOptions) (*Chrome, error) {
	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("no-sandbox", opts.NoSandbox),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelTarget := chromedp.NewContext(allocCtx)

	// spawns the browser process, surfacing startup failures early
	startCtx, cancel := context.WithTimeout(browserCtx, time.Second*30)
	defer cancel()
	err := chromedp.Run(startCtx, chromedp.Navigate("about:blank"))
	if err != nil {
		cancelTarget()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &Chrome{
		browserCtx:   browserCtx,
		cancelAlloc:  cancelAlloc,
		cancelTarget: cancelTarget,
	}, nil
}

func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := c.browserCtx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.Navigate(url))
}

func (c *Chrome) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		state, err := c.EvaluateScript(ctx, "document.readyState")
		if err != nil {
			return err
		}
		if state == "complete" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("page never became ready: %w", ctx.Err())
		case <-time.After(time.Millisecond * 100):
		}
	}
}

func (c *Chrome) EvaluateScript(ctx context.Context, js string) (string, error) {
	var raw json.RawMessage
	err := c.run(ctx, chromedp.Evaluate(js, &raw))
	if err != nil {
		return "", err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var str string
	err = json.Unmarshal(raw, &str)
	if err != nil {
		// non-string result, hand back its json form
		return string(raw), nil
	}
	return str, nil
}

func (c *Chrome) Cookies(ctx context.Context) ([]Cookie, error) {
	var out []Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, ck := range cookies {
			out = append(out, Cookie{
				Name:    ck.Name,
				Value:   ck.Value,
				Domain:  ck.Domain,
				Path:    ck.Path,
				Expires: time.Unix(int64(ck.Expires), 0),
			})
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Chrome) InjectCookies(ctx context.Context, cookies []Cookie) error {
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ck := range cookies {
			param := network.SetCookie(ck.Name, ck.Value).
				WithDomain(ck.Domain).
				WithPath(ck.Path)
			if !ck.Expires.IsZero() {
				expires := cdp.TimeSinceEpoch(ck.Expires)
				param = param.WithExpires(&expires)
			}
			err := param.Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %q: %w", ck.Name, err)
			}
		}
		return nil
	}))
}

func (c *Chrome) Close(ctx context.Context) error {
	c.cancelTarget()
	c.cancelAlloc()
	return nil
}
