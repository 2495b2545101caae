package console

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"consoleharvest/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func seedSession(c *Client, origin string) *Session {
	sess := &Session{
		Cookies: map[string]string{
			c.opts.SessionCookie: "sess-1",
			c.opts.XSRFCookie:    "xsrf-1",
		},
		XSRFToken:     "xsrf-1",
		Origin:        origin,
		EstablishedAt: time.Now(),
	}
	c.holder.Publish(sess)
	return sess
}

func newTestClient(t *testing.T, baseURL string, opts Options, drv *fakeBrowser) *Client {
	t.Helper()
	opts.BaseURL = baseURL
	opts.PageInterval = time.Millisecond
	opts.EnrichInterval = time.Millisecond
	opts.NavTimeout = time.Second

	var client *Client
	var err error
	if drv == nil {
		client, err = NewClient(context.Background(), opts, nil, nil)
	} else {
		client, err = NewClient(context.Background(), opts, drv, nil)
	}
	require.NoError(t, err)
	return client
}

func TestAcquireTokenShortCircuitsBrowser(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/console")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dashboard" {
			fmt.Fprint(w, `<html><head><meta name="csrf-token" content="abc123"></head></html>`)
			return
		}
		fmt.Fprint(w, `<html><head></head></html>`)
	}))
	defer server.Close()

	drv := newFakeBrowser()
	client := newTestClient(t, server.URL, Options{}, drv)
	seedSession(client, server.URL)

	token, source, err := client.AcquireToken(context.Background(), []string{"/dashboard", "/members"})
	require.NoError(t, err)
	require.Equal(t, "abc123", token)
	require.Equal(t, "/dashboard", source)

	// the http strategy succeeded, the browser must never be touched
	require.Zero(t, drv.navigationCount())

	require.Equal(t, "abc123", client.Session().CSRFToken)
}

func TestAcquireTokenScansInlineScripts(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/console")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><script>window.config = { "csrf_token": "scripted42" };</script></body></html>`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Options{}, nil)
	seedSession(client, server.URL)

	token, _, err := client.AcquireToken(context.Background(), []string{"/"})
	require.NoError(t, err)
	require.Equal(t, "scripted42", token)
}

func TestAcquireTokenBrowserFallback(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/console")
	defer cleanup()

	// no path ever serves a meta token over http
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head></head></html>`)
	}))
	defer server.Close()

	drv := newFakeBrowser()
	drv.pages["/members"] = fakePage{metaToken: "browser-token"}
	// navigation rotated the session cookie
	drv.cookies["console_session"] = "rotated-sess"

	client := newTestClient(t, server.URL, Options{}, drv)
	seedSession(client, server.URL)

	token, source, err := client.AcquireToken(context.Background(), []string{"/dashboard", "/members"})
	require.NoError(t, err)
	require.Equal(t, "browser-token", token)
	require.Equal(t, "/members", source)

	// the rotated browser jar was folded back into the snapshot
	sess := client.Session()
	require.Equal(t, "browser-token", sess.CSRFToken)
	require.Equal(t, "rotated-sess", sess.Cookies["console_session"])
	// cookies the browser didn't carry are kept
	require.Equal(t, "xsrf-1", sess.Cookies["XSRF-TOKEN"])
}

func TestAcquireTokenUnresolved(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/console")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head></head></html>`)
	}))
	defer server.Close()

	drv := newFakeBrowser()
	client := newTestClient(t, server.URL, Options{}, drv)
	stale := seedSession(client, server.URL)

	_, _, err := client.AcquireToken(context.Background(), []string{"/dashboard"})
	require.ErrorIs(t, err, ErrTokenUnresolved)

	// unresolved acquisition publishes nothing
	require.Same(t, stale, client.Session())
}
