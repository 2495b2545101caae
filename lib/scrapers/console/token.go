package console

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"consoleharvest/lib/browser"
	"consoleharvest/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

type tokenState int

const (
	tokenNotAttempted tokenState = iota
	tokenHTTPAttempted
	tokenBrowserAttempted
	tokenResolved
	tokenUnresolved
)

func (s tokenState) String() string {
	switch s {
	case tokenHTTPAttempted:
		return "http_attempted"
	case tokenBrowserAttempted:
		return "browser_attempted"
	case tokenResolved:
		return "resolved"
	case tokenUnresolved:
		return "unresolved"
	default:
		return "not_attempted"
	}
}

// some consoles don't render the meta tag but assign the token to a
// global inside an inline script instead.
var scriptTokenRegex = regexp.MustCompile(`(?m)csrf[-_]?token['"]?\s*[:=]\s*['"]([A-Za-z0-9+/=_-]+)['"]`)

const metaTokenScript = `(() => {
	const m = document.querySelector('meta[name="csrf-token"]');
	return m ? m.content : "";
})()`

// AcquireToken runs the ordered token strategies: a plain authenticated
// GET per candidate path scanning for an embedded meta token, then a
// browser-automation fallback that reads the token out of the live DOM.
// the strategies short-circuit, the browser is never touched once the
// HTTP scan succeeds. on success a new Session snapshot carrying the
// token is published. both strategies failing is ErrTokenUnresolved,
// which callers may treat as a degradation rather than a stop.
func (c *Client) AcquireToken(ctx context.Context, candidatePaths []string) (token, sourcePath string, err error) {
	ctx, span := tracer.Start(ctx, "AcquireToken")
	defer span.End()

	sess := c.holder.Current()
	if sess == nil {
		return "", "", fmt.Errorf("no session established")
	}
	if len(candidatePaths) == 0 {
		candidatePaths = c.opts.TokenPaths
	}

	state := tokenNotAttempted
	defer func() {
		slog.DebugContext(ctx, "token acquisition finished", "state", state.String(), "source", sourcePath)
	}()

	state = tokenHTTPAttempted
	for _, path := range candidatePaths {
		token := c.scanPathForToken(ctx, sess, path)
		if token == "" {
			continue
		}

		state = tokenResolved
		refreshed := sess.Clone()
		refreshed.CSRFToken = token
		refreshed.LastValidatedAt = time.Now()
		c.holder.Publish(refreshed)
		return token, path, nil
	}

	if c.browser == nil {
		state = tokenUnresolved
		return "", "", ErrTokenUnresolved
	}

	state = tokenBrowserAttempted
	token, sourcePath, err = c.browserTokenFallback(ctx, sess, candidatePaths)
	if err != nil {
		state = tokenUnresolved
		span.SetStatus(codes.Error, "both token strategies failed")
		return "", "", err
	}
	state = tokenResolved
	return token, sourcePath, nil
}

func (c *Client) scanPathForToken(ctx context.Context, sess *Session, path string) string {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Cookie", sess.CookieHeader()).
		Get(path)
	if err != nil {
		slog.DebugContext(ctx, "token candidate fetch failed", "path", path, "err", err)
		return ""
	}
	if res.StatusCode() >= 400 {
		slog.DebugContext(ctx, "token candidate rejected", "path", path, "status", res.StatusCode())
		return ""
	}
	return extractMetaToken(res.Body())
}

func extractMetaToken(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return ""
	}

	token := doc.Find(`meta[name=csrf-token]`).AttrOr("content", "")
	if token != "" {
		return token
	}

	for _, script := range doc.Find("script").Nodes {
		groups := scriptTokenRegex.FindStringSubmatch(htmlutil.GetText(script))
		if len(groups) == 2 {
			return groups[1]
		}
	}
	return ""
}

// browserTokenFallback injects the session's cookies into the browser,
// walks the candidate paths and reads the token from the page itself.
// navigation may rotate cookies, so the browser jar is harvested back
// into the published snapshot.
func (c *Client) browserTokenFallback(ctx context.Context, sess *Session, candidatePaths []string) (string, string, error) {
	err := c.browser.InjectCookies(ctx, c.sessionCookies(sess))
	if err != nil {
		return "", "", fmt.Errorf("inject cookies: %w", ErrTokenUnresolved)
	}

	for _, path := range candidatePaths {
		err := c.browser.Navigate(ctx, c.absoluteURL(path))
		if err != nil {
			slog.DebugContext(ctx, "token candidate navigation failed", "path", path, "err", err)
			continue
		}
		err = c.browser.WaitUntilReady(ctx, c.opts.NavTimeout)
		if err != nil {
			slog.DebugContext(ctx, "token candidate never became ready", "path", path, "err", err)
			continue
		}

		token, err := c.browser.EvaluateScript(ctx, metaTokenScript)
		if err != nil || token == "" {
			continue
		}

		refreshed := sess.Clone()
		c.foldBrowserCookies(ctx, refreshed)
		refreshed.CSRFToken = token
		refreshed.LastValidatedAt = time.Now()
		c.holder.Publish(refreshed)
		return token, path, nil
	}

	return "", "", ErrTokenUnresolved
}

func (c *Client) sessionCookies(sess *Session) []browser.Cookie {
	out := make([]browser.Cookie, 0, len(sess.Cookies))
	for name, value := range sess.Cookies {
		out = append(out, browser.Cookie{
			Name:   name,
			Value:  value,
			Domain: c.base.Hostname(),
			Path:   "/",
		})
	}
	return out
}

// foldBrowserCookies overlays the browser's current jar onto the
// snapshot. cookies the browser no longer carries are kept as-is.
func (c *Client) foldBrowserCookies(ctx context.Context, sess *Session) {
	cookies, err := c.browser.Cookies(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to harvest browser cookies", "err", err)
		return
	}
	host := c.base.Hostname()
	for _, ck := range cookies {
		if ck.Domain != "" && !strings.HasSuffix(host, strings.TrimPrefix(ck.Domain, ".")) {
			continue
		}
		sess.Cookies[ck.Name] = ck.Value
		if ck.Name == c.opts.XSRFCookie {
			sess.XSRFToken = ck.Value
		}
	}
}
