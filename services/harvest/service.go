// Package harvest composes the console scraper into the full pipeline:
// login → token acquisition → paginated collection → merge → concurrent
// enrichment → persistence and sinks.
package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"consoleharvest/lib/recordstore"
	"consoleharvest/lib/scrapers/console"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/harvest")

// SourceConfig is one paginated listing endpoint feeding the canonical
// record set. sources are collected in declaration order, which is
// also the merge priority order for text fields.
type SourceConfig struct {
	Endpoint string
	Params   url.Values
}

type Options struct {
	Sources []SourceConfig
	// attribute carrying the stable external identifier in raw items.
	IdentityField string
	MergePolicy   console.MergePolicy
	// per-entity tag endpoint, with %s standing in for the identity key.
	TagPath  string
	TagRules console.TagRules
}

// ReportSink receives the finished canonical set. implementations are
// pure output, they never feed back into the pipeline.
type ReportSink interface {
	WriteReport(ctx context.Context, runID string, records []console.EntityRecord, enrichment map[string]console.EnrichmentResult) error
}

type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

type Service struct {
	client   *console.Client
	store    *recordstore.Store
	report   ReportSink
	notifier Notifier
	opts     Options
}

// NewService wires the pipeline. store, report and notifier may each be
// nil, the corresponding step is skipped.
func NewService(client *console.Client, store *recordstore.Store, report ReportSink, notifier Notifier, opts Options) Service {
	if opts.IdentityField == "" {
		opts.IdentityField = "code"
	}
	return Service{
		client:   client,
		store:    store,
		report:   report,
		notifier: notifier,
		opts:     opts,
	}
}

// Run executes one full harvest. only login failures and collection
// errors abort the run; token acquisition and enrichment degrade.
func (s Service) Run(ctx context.Context, cred console.Credential) error {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	runID, err := random.String(8)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "harvest starting", "run_id", runID)

	_, err = s.client.Login(ctx, cred)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return err
	}

	_, source, err := s.client.AcquireToken(ctx, nil)
	if errors.Is(err, console.ErrTokenUnresolved) {
		slog.WarnContext(ctx, "proceeding without a csrf meta token")
	} else if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token acquisition failed")
		return err
	} else {
		slog.DebugContext(ctx, "csrf token resolved", "source", source)
	}

	err = s.client.Warmup(ctx)
	if err != nil {
		slog.WarnContext(ctx, "session warmup failed", "err", err)
	}

	var snapshots []console.EntityRecord
	for _, src := range s.opts.Sources {
		items, err := s.client.Collect(ctx, src.Endpoint, src.Params)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, fmt.Sprintf("collection failed on %s", src.Endpoint))
			return err
		}
		for _, item := range items {
			record, ok := s.parseItem(ctx, item)
			if ok {
				snapshots = append(snapshots, record)
			}
		}
	}

	records := console.MergeAll(s.opts.MergePolicy, snapshots)
	slog.InfoContext(ctx, "canonical set assembled",
		"snapshots", len(snapshots), "records", len(records))

	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.IdentityKey
	}
	enrichment := s.client.EnrichAll(ctx, keys, s.fetchTags)

	if s.store != nil {
		err = s.store.SaveAll(ctx, records, enrichment)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "persist failed")
			return err
		}
	}
	if s.report != nil {
		err = s.report.WriteReport(ctx, runID, records, enrichment)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "report failed")
			return err
		}
	}
	if s.notifier != nil {
		err = s.notifier.Notify(ctx,
			fmt.Sprintf("harvest %s finished", runID),
			fmt.Sprintf("%d records collected, %d enriched", len(records), len(enrichment)),
		)
		if err != nil {
			slog.WarnContext(ctx, "notification failed", "err", err)
		}
	}

	slog.InfoContext(ctx, "harvest finished", "run_id", runID, "records", len(records))
	return nil
}

// parseItem flattens one raw listing item into an EntityRecord. items
// without an identity key are dropped, they can't be merged or
// enriched.
func (s Service) parseItem(ctx context.Context, item json.RawMessage) (console.EntityRecord, bool) {
	var fields map[string]any
	err := json.Unmarshal(item, &fields)
	if err != nil {
		slog.WarnContext(ctx, "unparseable listing item dropped", "err", err)
		return console.EntityRecord{}, false
	}

	attributes := make(map[string]string, len(fields))
	for name, value := range fields {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			attributes[name] = v
		case bool:
			attributes[name] = strconv.FormatBool(v)
		case float64:
			attributes[name] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				continue
			}
			attributes[name] = string(encoded)
		}
	}

	key := attributes[s.opts.IdentityField]
	if key == "" {
		slog.WarnContext(ctx, "listing item without identity key dropped", "field", s.opts.IdentityField)
		return console.EntityRecord{}, false
	}
	return console.EntityRecord{IdentityKey: key, Attributes: attributes}, true
}

// fetchTags is the enrichment fetch: GET the per-entity tag tree and
// reduce it to the configured flag set.
func (s Service) fetchTags(ctx context.Context, identityKey string) (json.RawMessage, error) {
	body, err := s.client.Execute(ctx, console.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf(s.opts.TagPath, url.PathEscape(identityKey)),
	})
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data []console.TagCategory `json:"data"`
	}
	err = json.Unmarshal(body, &envelope)
	if err != nil {
		return nil, fmt.Errorf("parse tag tree: %w", err)
	}

	flags := console.DeriveTagFlags(envelope.Data, s.opts.TagRules)
	return json.Marshal(flags)
}
