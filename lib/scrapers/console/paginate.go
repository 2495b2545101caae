package console

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel/codes"
)

// pageEnvelope is the standard container the console's listing
// endpoints wrap their items in.
type pageEnvelope struct {
	Data        []json.RawMessage `json:"data"`
	CurrentPage int               `json:"current_page"`
	LastPage    int               `json:"last_page"`
}

// PageCursor is the loop state of one paginated collection.
type PageCursor struct {
	PageNumber  int
	CurrentPage int
	LastPage    int
	ItemCount   int
}

// Collect fetches every page of a listing endpoint in strictly
// increasing page order, form-POSTing baseParams plus the page number.
// it stops on an empty page, when the cursor reaches the last page, or
// at the hard page cap. a malformed body counts as an empty page so one
// broken response doesn't void an otherwise complete collection.
func (c *Client) Collect(ctx context.Context, endpoint string, baseParams url.Values) ([]json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "Collect")
	defer span.End()

	var items []json.RawMessage
	cursor := PageCursor{}

	for page := 1; ; page++ {
		if page > c.opts.MaxPages {
			slog.WarnContext(ctx, "page cap reached, endpoint may be misbehaving",
				"endpoint", endpoint, "cap", c.opts.MaxPages)
			break
		}
		if page > 1 {
			err := c.pageLimiter.Wait(ctx)
			if err != nil {
				return items, err
			}
		}

		params := url.Values{}
		for k, vs := range baseParams {
			params[k] = vs
		}
		params.Set("page", strconv.Itoa(page))

		body, err := c.Execute(ctx, Request{
			Method:  http.MethodPost,
			Path:    endpoint,
			Form:    params,
			Referer: c.origin() + endpoint,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		var envelope pageEnvelope
		err = json.Unmarshal(body, &envelope)
		if err != nil {
			slog.WarnContext(ctx, "malformed page body, treating as end of listing",
				"endpoint", endpoint, "page", page, "err", err)
			break
		}

		cursor = PageCursor{
			PageNumber:  page,
			CurrentPage: envelope.CurrentPage,
			LastPage:    envelope.LastPage,
			ItemCount:   cursor.ItemCount + len(envelope.Data),
		}

		if len(envelope.Data) == 0 {
			break
		}
		items = append(items, envelope.Data...)

		if envelope.LastPage > 0 && envelope.CurrentPage >= envelope.LastPage {
			break
		}
	}

	slog.DebugContext(ctx, "collection finished",
		"endpoint", endpoint, "pages", cursor.PageNumber, "items", len(items))
	return items, nil
}
