package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"consoleharvest/lib/captcha"

	"go.opentelemetry.io/otel/codes"
)

const loginFormScript = `(() => {
	const identity = document.querySelector(%q);
	const secret = document.querySelector(%q);
	return identity && secret ? "present" : "";
})()`

const fillFieldScript = `(() => {
	const field = document.querySelector(%q);
	if (!field) return "";
	field.value = %q;
	field.dispatchEvent(new Event('input', { bubbles: true }));
	return "ok";
})()`

const siteKeyScript = `(() => {
	const widget = document.querySelector('.g-recaptcha, [data-sitekey]');
	return widget ? (widget.dataset.sitekey || "") : "";
})()`

const injectChallengeScript = `(() => {
	let area = document.querySelector('textarea[name=g-recaptcha-response]');
	if (!area) {
		area = document.createElement('textarea');
		area.name = 'g-recaptcha-response';
		area.style.display = 'none';
		const form = document.querySelector('form');
		if (!form) return "";
		form.appendChild(area);
	}
	area.value = %q;
	return "ok";
})()`

const submitFormScript = `(() => {
	const secret = document.querySelector(%q);
	const form = secret ? secret.closest('form') : document.querySelector('form');
	if (!form) return "";
	form.submit();
	return "ok";
})()`

const selectScopeScript = `(() => {
	const option = document.querySelector('[data-scope-id=%q]');
	if (!option) return "";
	option.click();
	return "ok";
})()`

// Login drives the interactive browser through the console's login
// flow and harvests the resulting cookie jar into a published Session.
// an already-authenticated browser short-circuits credential entry.
// any outcome other than a positively confirmed authenticated area is
// ErrLoginFailed.
func (c *Client) Login(ctx context.Context, cred Credential) (LoginOutcome, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	fail := func(err error) (LoginOutcome, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return LoginOutcome{}, err
	}

	if c.browser == nil {
		return fail(fmt.Errorf("no browser driver configured: %w", ErrLoginFailed))
	}
	c.cred = cred

	err := c.browser.Navigate(ctx, c.absoluteURL(c.opts.LoginPath))
	if err != nil {
		return fail(fmt.Errorf("open login page: %s: %w", err, ErrLoginFailed))
	}
	err = c.browser.WaitUntilReady(ctx, c.opts.NavTimeout)
	if err != nil {
		return fail(fmt.Errorf("login page never became ready: %s: %w", err, ErrLoginFailed))
	}

	// a warm browser may still hold a live session, skip credential
	// entry when the authenticated area is already reachable
	if c.hasSessionCookie(ctx) && c.confirmAuthenticatedArea(ctx) == nil {
		slog.InfoContext(ctx, "existing browser session still valid, skipping credential entry")
		return c.finishLogin(ctx)
	}

	present, err := c.browser.EvaluateScript(ctx, fmt.Sprintf(loginFormScript, c.opts.IdentityField, c.opts.SecretField))
	if err != nil || present == "" {
		return fail(fmt.Errorf("login form not found on %s: %w", c.opts.LoginPath, ErrLoginFailed))
	}

	err = c.fillField(ctx, c.opts.IdentityField, cred.Identity)
	if err == nil {
		err = c.fillField(ctx, c.opts.SecretField, cred.Secret)
	}
	if err != nil {
		return fail(fmt.Errorf("fill credentials: %s: %w", err, ErrLoginFailed))
	}

	siteKey, err := c.browser.EvaluateScript(ctx, siteKeyScript)
	if err == nil && siteKey != "" {
		token, err := c.solveChallenge(ctx, siteKey, c.absoluteURL(c.opts.LoginPath))
		if err != nil {
			return fail(fmt.Errorf("challenge: %s: %w", err, ErrLoginFailed))
		}
		injected, err := c.browser.EvaluateScript(ctx, fmt.Sprintf(injectChallengeScript, token))
		if err != nil || injected == "" {
			return fail(fmt.Errorf("inject challenge token: %w", ErrLoginFailed))
		}
	}

	submitted, err := c.browser.EvaluateScript(ctx, fmt.Sprintf(submitFormScript, c.opts.SecretField))
	if err != nil || submitted == "" {
		return fail(fmt.Errorf("submit login form: %w", ErrLoginFailed))
	}

	err = c.waitForAuthenticated(ctx)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", err, ErrLoginFailed))
	}

	err = c.confirmAuthenticatedArea(ctx)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", err, ErrLoginFailed))
	}

	return c.finishLogin(ctx)
}

func (c *Client) fillField(ctx context.Context, selector, value string) error {
	res, err := c.browser.EvaluateScript(ctx, fmt.Sprintf(fillFieldScript, selector, value))
	if err != nil {
		return err
	}
	if res == "" {
		return fmt.Errorf("field %s not found", selector)
	}
	return nil
}

func (c *Client) hasSessionCookie(ctx context.Context) bool {
	cookies, err := c.browser.Cookies(ctx)
	if err != nil {
		return false
	}
	for _, ck := range cookies {
		if ck.Name == c.opts.SessionCookie && ck.Value != "" {
			return true
		}
	}
	return false
}

// solveChallenge hands the widget's site key to the external solver and
// polls within a bounded budget. a not-ready answer is retryable,
// anything else kills the login.
func (c *Client) solveChallenge(ctx context.Context, siteKey, pageURL string) (string, error) {
	ctx, span := tracer.Start(ctx, "solveChallenge")
	defer span.End()

	if c.solver == nil {
		return "", fmt.Errorf("challenge widget present but no solver configured")
	}

	jobID, err := c.solver.Submit(ctx, siteKey, pageURL)
	if err != nil {
		return "", err
	}
	slog.DebugContext(ctx, "challenge submitted", "job_id", jobID)

	for attempt := 0; attempt < c.opts.CaptchaPollBudget; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.opts.CaptchaPollInterval):
		}

		token, err := c.solver.Poll(ctx, jobID)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, captcha.ErrNotReady) {
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
	}

	return "", fmt.Errorf("challenge poll budget exhausted after %d attempts", c.opts.CaptchaPollBudget)
}

// waitForAuthenticated polls, bounded by NavTimeout, until the page no
// longer looks like a login page and a session-identity cookie showed up.
func (c *Client) waitForAuthenticated(ctx context.Context) error {
	deadline := time.Now().Add(c.opts.NavTimeout)
	formScript := fmt.Sprintf(loginFormScript, c.opts.IdentityField, c.opts.SecretField)

	for {
		_ = c.browser.WaitUntilReady(ctx, c.opts.NavTimeout)

		stillLogin, err := c.browser.EvaluateScript(ctx, formScript)
		if err == nil && stillLogin == "" && c.hasSessionCookie(ctx) {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("never left the login page within %s", c.opts.NavTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond * 500):
		}
	}
}

// confirmAuthenticatedArea navigates to a known authenticated-only
// location and checks login didn't silently bounce us back.
func (c *Client) confirmAuthenticatedArea(ctx context.Context) error {
	err := c.browser.Navigate(ctx, c.absoluteURL(c.opts.HomePath))
	if err != nil {
		return fmt.Errorf("reach %s: %s", c.opts.HomePath, err)
	}
	err = c.browser.WaitUntilReady(ctx, c.opts.NavTimeout)
	if err != nil {
		return fmt.Errorf("%s never became ready: %s", c.opts.HomePath, err)
	}

	formScript := fmt.Sprintf(loginFormScript, c.opts.IdentityField, c.opts.SecretField)
	stillLogin, err := c.browser.EvaluateScript(ctx, formScript)
	if err != nil {
		return fmt.Errorf("inspect %s: %s", c.opts.HomePath, err)
	}
	if stillLogin != "" {
		return fmt.Errorf("%s bounced back to the login form", c.opts.HomePath)
	}
	return nil
}

// finishLogin performs the opportunistic scope selection and harvests
// the browser jar into the published Session.
func (c *Client) finishLogin(ctx context.Context) (LoginOutcome, error) {
	c.selectScope(ctx)

	cookies, err := c.browser.Cookies(ctx)
	if err != nil {
		return LoginOutcome{}, fmt.Errorf("harvest cookies: %s: %w", err, ErrLoginFailed)
	}

	now := time.Now()
	sess := &Session{
		Cookies:         map[string]string{},
		Origin:          c.origin(),
		ScopeID:         c.opts.ScopeID,
		EstablishedAt:   now,
		LastValidatedAt: now,
	}
	for _, ck := range cookies {
		sess.Cookies[ck.Name] = ck.Value
	}
	sess.XSRFToken = sess.Cookies[c.opts.XSRFCookie]

	if !sess.Valid(c.opts.SessionCookie, c.opts.XSRFCookie) {
		return LoginOutcome{}, fmt.Errorf(
			"harvested jar is missing %s or %s: %w",
			c.opts.SessionCookie, c.opts.XSRFCookie, ErrLoginFailed,
		)
	}

	c.holder.Publish(sess)
	slog.InfoContext(ctx, "login confirmed", "cookies", len(sess.Cookies), "scope", sess.ScopeID)
	return LoginOutcome{Session: sess, ReachedTargetArea: true}, nil
}

// selectScope is best-effort: failing to pick the sub-tenant only
// degrades later requests, it never fails the login.
func (c *Client) selectScope(ctx context.Context) {
	if c.opts.ScopePath == "" || c.opts.ScopeID == "" {
		return
	}

	err := c.browser.Navigate(ctx, c.absoluteURL(c.opts.ScopePath))
	if err == nil {
		err = c.browser.WaitUntilReady(ctx, c.opts.NavTimeout)
	}
	if err != nil {
		slog.WarnContext(ctx, "scope selection page unreachable", "scope", c.opts.ScopeID, "err", err)
		return
	}

	picked, err := c.browser.EvaluateScript(ctx, fmt.Sprintf(selectScopeScript, c.opts.ScopeID))
	if err != nil || picked == "" {
		slog.WarnContext(ctx, "scope selection failed", "scope", c.opts.ScopeID, "err", err)
	}
}
