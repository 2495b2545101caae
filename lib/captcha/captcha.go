// Package captcha talks to an external captcha-solving service. the
// solving itself is entirely the service's business, this package only
// submits jobs and polls for their answers.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"consoleharvest/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/captcha")

// ErrNotReady is returned by Poll while the service is still working on
// a job. it is the only retryable poll outcome.
var ErrNotReady = errors.New("captcha job not solved yet")

type Solver interface {
	Submit(ctx context.Context, siteKey, pageURL string) (jobID string, err error)
	// Poll returns the solved token, ErrNotReady while pending, or a
	// fatal error for anything else.
	Poll(ctx context.Context, jobID string) (token string, err error)
}

type ClientOptions struct {
	BaseURL string
	APIKey  string
}

// Client implements Solver against a 2captcha-compatible HTTP API.
type Client struct {
	http   *resty.Client
	apiKey string
}

var _ Solver = (*Client)(nil)

func NewClient(opts ClientOptions) *Client {
	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "lib/captcha/http")

	return &Client{http: client, apiKey: opts.APIKey}
}

func (c *Client) Submit(ctx context.Context, siteKey, pageURL string) (string, error) {
	ctx, span := tracer.Start(ctx, "Submit")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"key":       c.apiKey,
			"method":    "userrecaptcha",
			"googlekey": siteKey,
			"pageurl":   pageURL,
		}).
		Post("/in.php")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit request failed")
		return "", err
	}

	body := res.String()
	jobID, ok := strings.CutPrefix(body, "OK|")
	if !ok {
		err := fmt.Errorf("captcha submit rejected: %s", body)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return jobID, nil
}

func (c *Client) Poll(ctx context.Context, jobID string) (string, error) {
	ctx, span := tracer.Start(ctx, "Poll")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":    c.apiKey,
			"action": "get",
			"id":     jobID,
		}).
		Get("/res.php")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "poll request failed")
		return "", err
	}

	body := res.String()
	switch {
	case strings.HasPrefix(body, "OK|"):
		return strings.TrimPrefix(body, "OK|"), nil
	case body == "CAPCHA_NOT_READY":
		// sic, the upstream api really spells it this way
		return "", ErrNotReady
	case body == "ERROR_CAPTCHA_UNSOLVABLE":
		// the service gave up on this frame, a resubmission may still work
		return "", ErrNotReady
	default:
		err := fmt.Errorf("captcha poll failed: %s", body)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
}
