package console

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"consoleharvest/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func pageBody(count, currentPage, lastPage int) string {
	items := make([]string, count)
	for i := range items {
		items[i] = fmt.Sprintf(`{"id":%d}`, (currentPage-1)*1000+i)
	}
	return fmt.Sprintf(`{"data":[%s],"current_page":%d,"last_page":%d}`,
		strings.Join(items, ","), currentPage, lastPage)
}

// listingServer replays the given page bodies in order of the page
// form param and records which pages were requested.
func listingServer(t *testing.T, bodies map[string]string) (*httptest.Server, func() []string) {
	t.Helper()
	var mu sync.Mutex
	var requested []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		page := r.PostFormValue("page")

		mu.Lock()
		requested = append(requested, page)
		mu.Unlock()

		fmt.Fprint(w, bodies[page])
	}))

	return server, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), requested...)
	}
}

func TestCollectStopsOnEmptyPage(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/console")
	defer cleanup()

	server, requestedPages := listingServer(t, map[string]string{
		"1": pageBody(50, 1, 0),
		"2": pageBody(50, 2, 0),
		"3": pageBody(0, 3, 0),
	})
	defer server.Close()

	client := newTestClient(t, server.URL, Options{}, nil)
	seedSession(client, server.URL)

	items, err := client.Collect(context.Background(), "/api/members", nil)
	require.NoError(t, err)
	require.Len(t, items, 100)
	require.Equal(t, []string{"1", "2", "3"}, requestedPages())

	// items survive as raw json
	var first struct {
		ID int `json:"id"`
	}
	require.NoError(t, json.Unmarshal(items[0], &first))
	require.Equal(t, 0, first.ID)
}

func TestCollectStopsAtLastPage(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/console")
	defer cleanup()

	server, requestedPages := listingServer(t, map[string]string{
		"1": pageBody(10, 1, 2),
		"2": pageBody(4, 2, 2),
	})
	defer server.Close()

	client := newTestClient(t, server.URL, Options{}, nil)
	seedSession(client, server.URL)

	items, err := client.Collect(context.Background(), "/api/members", nil)
	require.NoError(t, err)
	require.Len(t, items, 14)
	// page 3 must never be requested
	require.Equal(t, []string{"1", "2"}, requestedPages())
}

func TestCollectHonorsPageCap(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/console")
	defer cleanup()

	// the endpoint keeps answering non-empty pages and never reports a
	// last page, the hard cap is all that stops the loop
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		fmt.Fprint(w, `{"data":[{"id":1}],"current_page":0,"last_page":0}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Options{MaxPages: 3}, nil)
	seedSession(client, server.URL)

	items, err := client.Collect(context.Background(), "/api/members", nil)
	require.NoError(t, err)
	require.Len(t, items, 3)
}

func TestCollectTreatsMalformedPageAsEnd(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/console")
	defer cleanup()

	server, _ := listingServer(t, map[string]string{
		"1": pageBody(50, 1, 0),
		"2": `<html>gateway timeout</html>`,
	})
	defer server.Close()

	client := newTestClient(t, server.URL, Options{}, nil)
	seedSession(client, server.URL)

	items, err := client.Collect(context.Background(), "/api/members", nil)
	require.NoError(t, err)
	require.Len(t, items, 50)
}

func TestCollectForwardsBaseParams(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/console")
	defer cleanup()

	var mu sync.Mutex
	var seenStatus []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		seenStatus = append(seenStatus, r.PostFormValue("status"))
		mu.Unlock()
		fmt.Fprint(w, pageBody(0, 1, 0))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Options{}, nil)
	seedSession(client, server.URL)

	_, err := client.Collect(context.Background(), "/api/members", url.Values{
		"status": {"active"},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"active"}, seenStatus)
}
