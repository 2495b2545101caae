// Package console scrapes a cookie-session authenticated, multi-tenant
// admin portal that exposes no public API. login runs through an
// interactive browser, everything afterwards goes over plain HTTP with
// the harvested session headers attached.
package console

import (
	"context"
	"net/url"
	"sync"
	"time"

	"consoleharvest/lib/browser"
	"consoleharvest/lib/captcha"
	"consoleharvest/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("scrapers/console")

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

type Options struct {
	BaseURL string

	// cookie names the console issues. a session is only usable once
	// both are present.
	SessionCookie string
	XSRFCookie    string

	LoginPath string
	// authenticated-only location used to positively confirm login.
	HomePath string
	// sub-tenant selection endpoint, attempted opportunistically.
	ScopePath string
	ScopeID   string

	// candidate pages scanned for an embedded csrf meta token.
	TokenPaths []string
	// session-warmup endpoint hit with a json POST after login.
	WarmupPath string

	// css selectors for the login form fields.
	IdentityField string
	SecretField   string

	// small bodies matching any of these markers are treated as an
	// expired session regardless of status code.
	AuthErrorMarkers []string

	MaxPages     int
	PageInterval time.Duration

	EnrichWorkers  int
	EnrichInterval time.Duration

	CaptchaPollBudget   int
	CaptchaPollInterval time.Duration

	// bound on browser navigation / readiness / login polling waits.
	NavTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.SessionCookie == "" {
		o.SessionCookie = "console_session"
	}
	if o.XSRFCookie == "" {
		o.XSRFCookie = "XSRF-TOKEN"
	}
	if o.LoginPath == "" {
		o.LoginPath = "/login"
	}
	if o.HomePath == "" {
		o.HomePath = "/home"
	}
	if o.IdentityField == "" {
		o.IdentityField = "input[name=email]"
	}
	if o.SecretField == "" {
		o.SecretField = "input[name=password]"
	}
	if len(o.AuthErrorMarkers) == 0 {
		o.AuthErrorMarkers = []string{
			"csrf token mismatch",
			"unauthenticated",
			"session expired",
			"token_invalid",
		}
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 50
	}
	if o.PageInterval <= 0 {
		o.PageInterval = time.Millisecond * 500
	}
	if o.EnrichWorkers <= 0 {
		o.EnrichWorkers = 4
	}
	if o.EnrichInterval <= 0 {
		o.EnrichInterval = time.Millisecond * 300
	}
	if o.CaptchaPollBudget <= 0 {
		o.CaptchaPollBudget = 24
	}
	if o.CaptchaPollInterval <= 0 {
		o.CaptchaPollInterval = time.Second * 5
	}
	if o.NavTimeout <= 0 {
		o.NavTimeout = time.Second * 30
	}
	return o
}

type Client struct {
	opts    Options
	base    *url.URL
	http    *resty.Client
	browser browser.Driver
	solver  captcha.Solver
	holder  *SessionHolder

	// credential from the last successful Login, used when a refresh
	// has to fall all the way back to re-authentication.
	cred Credential

	// serializes session refreshes so a burst of expiry detections
	// collapses into a single re-authentication.
	refreshMu sync.Mutex

	pageLimiter   *rate.Limiter
	enrichLimiter *rate.Limiter
}

// NewClient builds a console client. `drv` may be nil to disable the
// browser fallback of token acquisition, but Login requires it.
func NewClient(ctx context.Context, opts Options, drv browser.Driver, solver captcha.Solver) (*Client, error) {
	opts = opts.withDefaults()

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", defaultUserAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(base.Hostname()))
	client.SetTimeout(time.Second * 30)

	// 2 requests max per second across the whole client
	limiter := rate.NewLimiter(2, 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, "scrapers/console/http")

	return &Client{
		opts:          opts,
		base:          base,
		http:          client,
		browser:       drv,
		solver:        solver,
		holder:        NewSessionHolder(),
		pageLimiter:   rate.NewLimiter(rate.Every(opts.PageInterval), 1),
		enrichLimiter: rate.NewLimiter(rate.Every(opts.EnrichInterval), 1),
	}, nil
}

// Session returns the current published snapshot, nil before login.
func (c *Client) Session() *Session {
	return c.holder.Current()
}

func (c *Client) origin() string {
	return c.base.Scheme + "://" + c.base.Host
}

func (c *Client) absoluteURL(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.origin() + path
	}
	return c.base.ResolveReference(ref).String()
}
