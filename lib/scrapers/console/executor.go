package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
)

// bodies larger than this can't be a terse auth-error payload, don't
// bother scanning them for markers.
const authBodyScanLimit = 2048

// Request is one call against an internal console endpoint. Form and
// JSON are mutually exclusive, Form wins when both are set.
type Request struct {
	Method  string
	Path    string
	Referer string
	Query   url.Values
	Form    url.Values
	JSON    any
}

// Execute sends the request with the current session headers attached.
// on the first sign of an expired session it runs exactly one
// refresh-and-retry cycle, a second expiry on the retried attempt is
// fatal. transient (5xx/transport) and permanent (other 4xx) failures
// are classified but never retried here.
func (c *Client) Execute(ctx context.Context, req Request) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Execute")
	defer span.End()

	sess := c.holder.Current()
	if sess == nil {
		return nil, fmt.Errorf("no session established")
	}

	body, expired, err := c.send(ctx, sess, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !expired {
		return body, nil
	}

	slog.WarnContext(ctx, "session rejected, refreshing once", "endpoint", req.Path)
	err = c.refreshSession(ctx, sess)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	body, expired, err = c.send(ctx, c.holder.Current(), req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if expired {
		err := fmt.Errorf("%s still rejects the session after a refresh: %w", req.Path, ErrSessionExpired)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, sess *Session, req Request) (body []byte, expired bool, err error) {
	r := c.http.R().
		SetContext(ctx).
		SetHeader("Cookie", sess.CookieHeader()).
		SetHeader("X-CSRF-TOKEN", sess.CSRFHeaderValue()).
		SetHeader("X-XSRF-TOKEN", sess.XSRFHeaderValue()).
		SetHeader("X-Requested-With", "XMLHttpRequest").
		SetHeader("Origin", sess.Origin)

	referer := req.Referer
	if referer == "" {
		referer = sess.Origin + "/"
	}
	r.SetHeader("Referer", referer)

	if req.Query != nil {
		r.SetQueryParamsFromValues(req.Query)
	}
	switch {
	case req.Form != nil:
		r.SetFormDataFromValues(req.Form)
	case req.JSON != nil:
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(req.JSON)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	res, err := r.Execute(method, req.Path)
	if err != nil {
		return nil, false, &TransientNetworkError{Endpoint: req.Path, Err: err}
	}

	status := res.StatusCode()
	switch {
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == 419: // non-standard "authentication timeout" / csrf mismatch
		return nil, true, nil
	case status >= 500:
		return nil, false, &TransientNetworkError{Endpoint: req.Path, Status: status}
	case status >= 400:
		return nil, false, &PermanentRequestError{
			Endpoint: req.Path,
			Status:   status,
			Body:     truncate(res.String(), 256),
		}
	}

	if c.looksExpired(res.Body()) {
		return nil, true, nil
	}
	return res.Body(), false, nil
}

// looksExpired catches consoles that answer 200 with a terse auth-error
// payload instead of a proper status.
func (c *Client) looksExpired(body []byte) bool {
	if len(body) == 0 || len(body) > authBodyScanLimit {
		return false
	}
	lowered := strings.ToLower(string(body))
	for _, marker := range c.opts.AuthErrorMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// refreshSession re-establishes a usable snapshot. concurrent expiry
// detections collapse into one refresh: whoever wins the lock does the
// work, the rest observe the already-advanced snapshot and return.
func (c *Client) refreshSession(ctx context.Context, stale *Session) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	current := c.holder.Current()
	if current != stale {
		return nil
	}

	// cookies entirely gone means only a fresh login can help
	if current.Cookies[c.opts.SessionCookie] == "" {
		outcome, err := c.Login(ctx, c.cred)
		if err != nil {
			return err
		}
		current = outcome.Session
	}

	_, _, err := c.AcquireToken(ctx, c.opts.TokenPaths)
	if errors.Is(err, ErrTokenUnresolved) {
		slog.WarnContext(ctx, "token refresh unresolved, continuing on xsrf cookie alone")
		refreshed := current.Clone()
		refreshed.CSRFToken = ""
		refreshed.LastValidatedAt = time.Now()
		c.holder.Publish(refreshed)
		return nil
	}
	return err
}

// Warmup performs the console's session-initialization call, a json
// POST some endpoints require before they start answering.
func (c *Client) Warmup(ctx context.Context) error {
	if c.opts.WarmupPath == "" {
		return nil
	}
	sess := c.holder.Current()
	if sess == nil {
		return fmt.Errorf("no session established")
	}
	_, err := c.Execute(ctx, Request{
		Method: http.MethodPost,
		Path:   c.opts.WarmupPath,
		JSON:   map[string]string{"scope_id": sess.ScopeID},
	})
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
