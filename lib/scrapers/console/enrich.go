package console

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// EnrichmentResult is what a single enrichment task produced. a failed
// task still yields a result, with Defaulted set and no payload.
type EnrichmentResult struct {
	IdentityKey string
	Payload     json.RawMessage
	Defaulted   bool
}

// FetchFunc fetches the supplemental payload for one identity key. it
// reads the shared Session through the client's published snapshot,
// request headers are copied per call, never mutated in place.
type FetchFunc func(ctx context.Context, identityKey string) (json.RawMessage, error)

// EnrichAll fans the identity keys out over a bounded worker pool.
// workers pace themselves against the shared enrichment rate limit. a
// failed task is logged and recorded as a default result, it never
// takes down its siblings; every key ends up with exactly one entry.
func (c *Client) EnrichAll(ctx context.Context, identityKeys []string, fetchOne FetchFunc) map[string]EnrichmentResult {
	ctx, span := tracer.Start(ctx, "EnrichAll")
	defer span.End()

	queue := make(chan string, len(identityKeys))
	for _, key := range identityKeys {
		queue <- key
	}
	close(queue)

	results := make(map[string]EnrichmentResult, len(identityKeys))
	resultLock := sync.Mutex{}
	wg := sync.WaitGroup{}

	for i := 0; i < c.opts.EnrichWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range queue {
				result := c.enrichOne(ctx, key, fetchOne)

				resultLock.Lock()
				results[key] = result
				resultLock.Unlock()
			}
		}()
	}

	wg.Wait()
	return results
}

func (c *Client) enrichOne(ctx context.Context, key string, fetchOne FetchFunc) EnrichmentResult {
	err := c.enrichLimiter.Wait(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "enrichment cancelled, recording default", "identity_key", key, "err", err)
		return EnrichmentResult{IdentityKey: key, Defaulted: true}
	}

	payload, err := fetchOne(ctx, key)
	if err != nil {
		slog.ErrorContext(ctx, "enrichment task failed, recording default", "identity_key", key, "err", err)
		return EnrichmentResult{IdentityKey: key, Defaulted: true}
	}
	return EnrichmentResult{IdentityKey: key, Payload: payload}
}
