package sources

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MaterialsMonitor/internal/domain"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Mining News</title>
    <item>
      <title>Copper smelter halt in Chile</title>
      <link>https://www.mining.com/copper-halt</link>
      <guid>item-2</guid>
      <pubDate>Sun, 01 Mar 2026 10:00:00 +0000</pubDate>
      <description>Codelco halts smelting.</description>
    </item>
    <item>
      <title>Country X restricts export of Lithium</title>
      <link>https://www.mining.com/lithium-export</link>
      <guid>item-1</guid>
      <pubDate>Sun, 01 Mar 2026 08:00:00 +0000</pubDate>
      <description>New export controls announced.</description>
    </item>
    <item>
      <title>Penny stock tipsheet roundup</title>
      <link>https://spam.example.com/tips</link>
      <guid>item-3</guid>
      <pubDate>Sun, 01 Mar 2026 11:00:00 +0000</pubDate>
      <description>Buy now.</description>
    </item>
  </channel>
</rss>`

func rssServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRSSFetchOldestFirst(t *testing.T) {
	t.Parallel()

	srv := rssServer(t, rssFixture)
	adapter := NewRSSAdapter(srv.Client(), testQualityFilter(), testLogger())

	docs, err := collect(t, adapter, testRequest("mining-rss", domain.KindIndustry, srv.URL, ""))
	require.NoError(t, err)
	require.Len(t, docs, 2)

	// Oldest first; the blocklisted spam item is gone.
	assert.Contains(t, string(docs[0].Raw.Payload), "Lithium")
	assert.Contains(t, string(docs[1].Raw.Payload), "Copper")

	assert.Equal(t, "2026-03-01T08:00:00Z|item-1", docs[0].Cursor)
	assert.Equal(t, "2026-03-01T10:00:00Z|item-2", docs[1].Cursor)

	raw := docs[0].Raw
	assert.Equal(t, "mining-rss", raw.SourceID)
	assert.Equal(t, domain.KindIndustry, raw.Kind)
	assert.NotEmpty(t, raw.ContentHash)
	assert.Contains(t, string(raw.Payload), "<item>")
}

func TestRSSFetchCursorFiltering(t *testing.T) {
	t.Parallel()

	srv := rssServer(t, rssFixture)
	adapter := NewRSSAdapter(srv.Client(), testQualityFilter(), testLogger())

	docs, err := collect(t, adapter,
		testRequest("mining-rss", domain.KindIndustry, srv.URL, "2026-03-01T08:00:00Z|item-1"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, string(docs[0].Raw.Payload), "Copper")
}

func TestRSSFetchUpToDateCursor(t *testing.T) {
	t.Parallel()

	srv := rssServer(t, rssFixture)
	adapter := NewRSSAdapter(srv.Client(), testQualityFilter(), testLogger())

	docs, err := collect(t, adapter,
		testRequest("mining-rss", domain.KindIndustry, srv.URL, "2026-03-01T10:00:00Z|item-2"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRSSFetchInvalidXML(t *testing.T) {
	t.Parallel()

	srv := rssServer(t, "this is not a feed")
	adapter := NewRSSAdapter(srv.Client(), testQualityFilter(), testLogger())

	_, err := collect(t, adapter, testRequest("mining-rss", domain.KindIndustry, srv.URL, ""))
	require.Error(t, err)

	var formatErr *domain.FeedFormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, "mining-rss", formatErr.SourceID)
}

func TestRSSFetchUpstreamFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	adapter := NewRSSAdapter(srv.Client(), testQualityFilter(), testLogger())

	_, err := collect(t, adapter, testRequest("mining-rss", domain.KindIndustry, srv.URL, ""))
	require.Error(t, err)

	var fetchErr *domain.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "mining-rss", fetchErr.SourceID)
}

func TestRSSFetchSkipsBadPubDate(t *testing.T) {
	t.Parallel()

	body := `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <item>
    <title>Undated announcement about Copper quotas</title>
    <link>https://www.mining.com/undated</link>
    <guid>item-x</guid>
    <pubDate>sometime soon</pubDate>
  </item>
</channel></rss>`
	srv := rssServer(t, body)
	adapter := NewRSSAdapter(srv.Client(), testQualityFilter(), testLogger())

	docs, err := collect(t, adapter, testRequest("mining-rss", domain.KindIndustry, srv.URL, ""))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRSSFetchAcceptsParserLayouts(t *testing.T) {
	t.Parallel()

	// The adapter shares the parser's timestamp layouts, so a pubDate the
	// parser would accept is never dropped here.
	body := `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <item>
    <title>Copper quota announcement</title>
    <link>https://www.mining.com/quota</link>
    <guid>item-y</guid>
    <pubDate>2026-03-01 08:00:00</pubDate>
  </item>
</channel></rss>`
	srv := rssServer(t, body)
	adapter := NewRSSAdapter(srv.Client(), testQualityFilter(), testLogger())

	docs, err := collect(t, adapter, testRequest("mining-rss", domain.KindIndustry, srv.URL, ""))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "2026-03-01T08:00:00Z|item-y", docs[0].Cursor)
}

func TestSplitRSSCursor(t *testing.T) {
	t.Parallel()

	when, guid := splitRSSCursor("2026-03-01T08:00:00Z|item-1")
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), when)
	assert.Equal(t, "item-1", guid)

	when, guid = splitRSSCursor("")
	assert.True(t, when.IsZero())
	assert.Empty(t, guid)

	when, _ = splitRSSCursor("garbage")
	assert.True(t, when.IsZero())
}
