package recordstore

import (
	"context"
	"encoding/json"
	"testing"

	"consoleharvest/lib/scrapers/console"

	"github.com/stretchr/testify/require"
)

func openMemoryStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)

	records := []console.EntityRecord{
		{IdentityKey: "m-1", Attributes: map[string]string{"name": "Alice", "blocked": "true"}},
		{IdentityKey: "m-2", Attributes: map[string]string{"name": "Bob"}},
	}
	enrichment := map[string]console.EnrichmentResult{
		"m-1": {IdentityKey: "m-1", Payload: json.RawMessage(`{"blocked":true}`)},
		"m-2": {IdentityKey: "m-2", Defaulted: true},
	}

	require.NoError(t, store.SaveAll(ctx, records, enrichment))

	loaded, loadedEnrichment, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	require.Equal(t, "m-1", loaded[0].IdentityKey)
	require.Equal(t, "Alice", loaded[0].Attributes["name"])
	require.Equal(t, "Bob", loaded[1].Attributes["name"])

	require.JSONEq(t, `{"blocked":true}`, string(loadedEnrichment["m-1"].Payload))
	require.False(t, loadedEnrichment["m-1"].Defaulted)
	require.True(t, loadedEnrichment["m-2"].Defaulted)
	require.Nil(t, loadedEnrichment["m-2"].Payload)
}

func TestStoreUpsertsOnRepeatSave(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)

	first := []console.EntityRecord{
		{IdentityKey: "m-1", Attributes: map[string]string{"name": "Alice"}},
	}
	require.NoError(t, store.SaveAll(ctx, first, nil))

	second := []console.EntityRecord{
		{IdentityKey: "m-1", Attributes: map[string]string{"name": "Alice Example"}},
		{IdentityKey: "m-2", Attributes: map[string]string{"name": "Bob"}},
	}
	require.NoError(t, store.SaveAll(ctx, second, nil))

	loaded, _, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, "Alice Example", loaded[0].Attributes["name"])
}

func TestStoreKeepsRowsAbsentFromLaterRuns(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)

	require.NoError(t, store.SaveAll(ctx, []console.EntityRecord{
		{IdentityKey: "m-1", Attributes: map[string]string{"name": "Alice"}},
	}, nil))
	require.NoError(t, store.SaveAll(ctx, []console.EntityRecord{
		{IdentityKey: "m-2", Attributes: map[string]string{"name": "Bob"}},
	}, nil))

	loaded, _, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
}
