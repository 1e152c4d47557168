package sources

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MaterialsMonitor/internal/domain"
)

const articlesFixture = `{
  "articles": [
    {"title": "Copper smelter halt in Chile", "url": "https://market.example.com/a2", "snippet": "Codelco halts smelting", "seendate": "20260301T101500Z", "domain": "market.example.com"},
    {"title": "Country X restricts export of Lithium", "url": "https://market.example.com/a1", "snippet": "New export controls", "seendate": "20260301T080000Z", "domain": "market.example.com"},
    {"title": "Metals tipsheet", "url": "https://spam.example.com/tips", "snippet": "Buy now", "seendate": "20260301T110000Z", "domain": "spam.example.com"}
  ]
}`

func apiServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestJSONAPIFetchOldestFirst(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(articlesFixture))
	})
	adapter := NewJSONAPIAdapter(srv.Client(), testQualityFilter(), testLogger())

	req := testRequest("gdelt-doc", domain.KindMarket, srv.URL, "")
	req.Options = map[string]string{"query": "copper AND export"}

	docs, err := collect(t, adapter, req)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	// Oldest first, verbatim article objects, spam host dropped.
	assert.Contains(t, string(docs[0].Raw.Payload), "Lithium")
	assert.Contains(t, string(docs[1].Raw.Payload), "Copper")
	assert.Equal(t, "20260301T080000Z", docs[0].Cursor)
	assert.Equal(t, "20260301T101500Z", docs[1].Cursor)

	assert.Contains(t, gotQuery, "mode=ArtList")
	assert.Contains(t, gotQuery, "format=json")
	assert.Contains(t, gotQuery, "timespan=7d")
	assert.Contains(t, gotQuery, "maxrecords=100")
}

func TestJSONAPIFetchCursorFiltering(t *testing.T) {
	t.Parallel()

	srv := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articlesFixture))
	})
	adapter := NewJSONAPIAdapter(srv.Client(), testQualityFilter(), testLogger())

	docs, err := collect(t, adapter,
		testRequest("gdelt-doc", domain.KindMarket, srv.URL, "20260301T080000Z"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, string(docs[0].Raw.Payload), "Copper")
}

func TestJSONAPIFetchUpstreamErrorStatus(t *testing.T) {
	t.Parallel()

	// The API reports this failure inside a 200 response.
	srv := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "error", "message": "query too broad"}`))
	})
	adapter := NewJSONAPIAdapter(srv.Client(), testQualityFilter(), testLogger())

	_, err := collect(t, adapter, testRequest("gdelt-doc", domain.KindMarket, srv.URL, ""))
	require.Error(t, err)

	var formatErr *domain.FeedFormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Contains(t, formatErr.Reason, "query too broad")
}

func TestJSONAPIFetchInvalidJSON(t *testing.T) {
	t.Parallel()

	srv := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>definitely not json</html>"))
	})
	adapter := NewJSONAPIAdapter(srv.Client(), testQualityFilter(), testLogger())

	_, err := collect(t, adapter, testRequest("gdelt-doc", domain.KindMarket, srv.URL, ""))
	require.Error(t, err)

	var formatErr *domain.FeedFormatError
	assert.ErrorAs(t, err, &formatErr)
}

func TestJSONAPIFetchSkipsBadArticles(t *testing.T) {
	t.Parallel()

	srv := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"articles": [
			{"title": "no seendate", "url": "https://market.example.com/x"},
			{"title": "good", "url": "https://market.example.com/y", "seendate": "20260301T080000Z"}
		]}`))
	})
	adapter := NewJSONAPIAdapter(srv.Client(), testQualityFilter(), testLogger())

	docs, err := collect(t, adapter, testRequest("gdelt-doc", domain.KindMarket, srv.URL, ""))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "20260301T080000Z", docs[0].Cursor)
}

func TestBuildQueryURL(t *testing.T) {
	t.Parallel()

	req := testRequest("gdelt-doc", domain.KindMarket, "https://api.example.com/v2/doc", "")
	req.Options = map[string]string{
		"query":      "lithium",
		"timespan":   "3d",
		"maxrecords": "50",
	}

	built, err := buildQueryURL(req)
	require.NoError(t, err)
	assert.Contains(t, built, "query=lithium")
	assert.Contains(t, built, "timespan=3d")
	assert.Contains(t, built, "maxrecords=50")
	assert.Contains(t, built, "sort=DateDesc")
}
