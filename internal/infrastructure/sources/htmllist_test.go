package sources

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MaterialsMonitor/internal/domain"
)

const pressListFixture = `<html><body>
  <nav><a href="/news/press-releases">More</a></nav>
  <ul>
    <li><a href="/news/press-releases/jy1001">Treasury Sanctions Copper Trading Network</a></li>
    <li><a href="/news/press-releases/jy1002">Treasury Targets Lithium Export Evasion Scheme</a></li>
    <li><a href="https://spam.example.com/news/press-releases/fake">Sponsored: one weird metals trick revealed</a></li>
    <li><a href="/about/careers">Careers at the Department</a></li>
  </ul>
</body></html>`

func listServer(t *testing.T, body *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(*body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTMLListFetchEntries(t *testing.T) {
	t.Parallel()

	body := pressListFixture
	srv := listServer(t, &body)
	adapter := NewHTMLListAdapter(srv.Client(), testQualityFilter(), testLogger())

	req := testRequest("treasury-press", domain.KindPolicy, srv.URL, "")
	req.Options = map[string]string{"linkContains": "/news/press-releases/"}

	docs, err := collect(t, adapter, req)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	// The nav link fails the length filter, the careers link the substring
	// filter, and the spam host the quality filter.
	var envelope struct {
		Base      string `json:"base"`
		HTML      string `json:"html"`
		FetchedAt string `json:"fetchedAt"`
	}
	require.NoError(t, json.Unmarshal(docs[0].Raw.Payload, &envelope))
	assert.Equal(t, srv.URL, envelope.Base)
	assert.Contains(t, envelope.HTML, "jy1001")
	assert.Contains(t, envelope.HTML, "Copper Trading Network")
	assert.NotEmpty(t, envelope.FetchedAt)

	assert.Equal(t, domain.KindPolicy, docs[0].Raw.Kind)
	assert.Equal(t, "treasury-press", docs[0].Raw.SourceID)
}

func TestHTMLListCursorIsPageDigest(t *testing.T) {
	t.Parallel()

	body := pressListFixture
	srv := listServer(t, &body)
	adapter := NewHTMLListAdapter(srv.Client(), testQualityFilter(), testLogger())

	req := testRequest("treasury-press", domain.KindPolicy, srv.URL, "")
	req.Options = map[string]string{"linkContains": "/news/press-releases/"}

	docs, err := collect(t, adapter, req)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	// Only the final entry carries the new digest; earlier entries keep the
	// request cursor so a halted run redelivers the rest of the page.
	assert.Equal(t, "", docs[0].Cursor)
	digest := docs[1].Cursor
	assert.NotEmpty(t, digest)

	t.Run("unchanged page yields nothing", func(t *testing.T) {
		again := req
		again.Cursor = digest
		docs, err := collect(t, adapter, again)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("changed page yields again", func(t *testing.T) {
		body = `<html><body>
  <a href="/news/press-releases/jy1003">Treasury Issues New Cobalt Guidance</a>
</body></html>`
		again := req
		again.Cursor = digest
		docs, err := collect(t, adapter, again)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Contains(t, string(docs[0].Raw.Payload), "jy1003")
		assert.NotEqual(t, digest, docs[0].Cursor)
	})
}

func TestHTMLListUpstreamFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	adapter := NewHTMLListAdapter(srv.Client(), testQualityFilter(), testLogger())

	_, err := collect(t, adapter, testRequest("treasury-press", domain.KindPolicy, srv.URL, ""))
	require.Error(t, err)

	var fetchErr *domain.FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestPageBase(t *testing.T) {
	t.Parallel()

	base, err := pageBase("https://home.treasury.gov/news/press-releases")
	require.NoError(t, err)
	assert.Equal(t, "https://home.treasury.gov", base)

	_, err = pageBase("not a url at all")
	assert.Error(t, err)
}

func TestListDigest(t *testing.T) {
	t.Parallel()

	a := listDigest([]string{"https://x/1", "https://x/2"})
	assert.Equal(t, a, listDigest([]string{"https://x/1", "https://x/2"}))
	assert.NotEqual(t, a, listDigest([]string{"https://x/2", "https://x/1"}))
	assert.NotEqual(t, a, listDigest(nil))
}
