package parser

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MaterialsMonitor/internal/domain"
)

func rawDoc(kind domain.SourceKind, payload string) domain.RawDocument {
	return domain.RawDocument{
		SourceID:    "feed-1",
		Kind:        kind,
		FetchedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Payload:     []byte(payload),
		ContentHash: "abc123",
	}
}

const newsItem = `<item>
  <title>Country X restricts export of Lithium</title>
  <link>https://news.example.com/lithium-export</link>
  <guid>news-42</guid>
  <pubDate>Sun, 01 Mar 2026 08:00:00 +0000</pubDate>
  <description>&lt;p&gt;Country X announced new export controls on &lt;b&gt;Lithium&lt;/b&gt; concentrate.&lt;/p&gt;&lt;script&gt;track()&lt;/script&gt;</description>
</item>`

func TestParseNewsItem(t *testing.T) {
	t.Parallel()

	p := New()
	rec, err := p.Parse(rawDoc(domain.KindNews, newsItem))
	require.NoError(t, err)

	assert.Equal(t, "Country X restricts export of Lithium", rec.Title)
	assert.Equal(t, "https://news.example.com/lithium-export", rec.SourceURI)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), rec.PublishedAt)
	assert.Equal(t, domain.KindNews, rec.Kind)

	// Boilerplate stripped, tags removed, script dropped.
	assert.Equal(t, "Country X announced new export controls on Lithium concentrate.", rec.Body)
	assert.NotContains(t, rec.Body, "track()")

	assert.Contains(t, rec.Mentions, "Country X")
	assert.Contains(t, rec.Mentions, "Lithium")
	assert.Len(t, rec.ID, 18)
	assert.NotEmpty(t, rec.Fingerprint)
}

func TestParseMarketArticle(t *testing.T) {
	t.Parallel()

	payload := `{"title":"Copper smelter halt in Chile","url":"https://market.example.com/a1","snippet":"Codelco halts smelting","seendate":"20260301T101500Z","domain":"market.example.com"}`
	p := New()
	rec, err := p.Parse(rawDoc(domain.KindMarket, payload))
	require.NoError(t, err)

	assert.Equal(t, "Copper smelter halt in Chile", rec.Title)
	assert.Equal(t, "Codelco halts smelting", rec.Body)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), rec.PublishedAt)
	assert.Contains(t, rec.Mentions, "Chile")
	assert.Contains(t, rec.Mentions, "Codelco")
}

func TestParsePolicyEntry(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(map[string]string{
		"base":      "https://home.treasury.gov",
		"html":      `<a href="/news/press-releases/jy9999">Treasury Sanctions Major Copper Trading Network</a>`,
		"fetchedAt": "2026-03-01T09:00:00Z",
	})
	require.NoError(t, err)

	p := New()
	rec, err := p.Parse(rawDoc(domain.KindPolicy, string(payload)))
	require.NoError(t, err)

	assert.Equal(t, "Treasury Sanctions Major Copper Trading Network", rec.Title)
	assert.Equal(t, "https://home.treasury.gov/news/press-releases/jy9999", rec.SourceURI)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), rec.PublishedAt)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		kind    domain.SourceKind
		payload string
	}{
		{"unsupported kind", domain.SourceKind("blog"), "{}"},
		{"malformed rss", domain.KindNews, "<item><title>unclosed"},
		{"rss missing title", domain.KindNews, "<item><link>https://x</link><pubDate>Sun, 01 Mar 2026 08:00:00 +0000</pubDate></item>"},
		{"rss missing link", domain.KindNews, "<item><title>t</title><pubDate>Sun, 01 Mar 2026 08:00:00 +0000</pubDate></item>"},
		{"rss bad date", domain.KindNews, "<item><title>t</title><link>https://x</link><pubDate>soon</pubDate></item>"},
		{"malformed market json", domain.KindMarket, "not json"},
		{"market missing url", domain.KindMarket, `{"title":"t","seendate":"20260301T101500Z"}`},
		{"market bad seendate", domain.KindMarket, `{"title":"t","url":"u","seendate":"yesterday"}`},
		{"malformed policy envelope", domain.KindPolicy, "<a href=x>no json</a>"},
		{"policy missing href", domain.KindPolicy, `{"base":"https://x","html":"<span>Just text here, no anchor</span>","fetchedAt":"2026-03-01T09:00:00Z"}`},
	}

	p := New()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Parse(rawDoc(tc.kind, tc.payload))
			require.Error(t, err)

			var parseErr *domain.ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, "feed-1", parseErr.SourceID)
			assert.Equal(t, "abc123", parseErr.Hash)
		})
	}
}

func TestParseIdempotent(t *testing.T) {
	t.Parallel()

	p := New()
	doc := rawDoc(domain.KindNews, newsItem)

	first, err := p.Parse(doc)
	require.NoError(t, err)
	second, err := p.Parse(doc)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Mentions, second.Mentions)
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	t.Run("case and whitespace insensitive", func(t *testing.T) {
		assert.Equal(t,
			Fingerprint("Copper  Halt", "Body text"),
			Fingerprint("copper halt", "body   text"))
	})

	t.Run("trailing body edits ignored", func(t *testing.T) {
		long := make([]byte, 2000)
		for i := range long {
			long[i] = 'a'
		}
		base := string(long)
		assert.Equal(t,
			Fingerprint("title", base+" tail one"),
			Fingerprint("title", base+" another tail"))
	})

	t.Run("title changes the fingerprint", func(t *testing.T) {
		assert.NotEqual(t,
			Fingerprint("Copper halt", "body"),
			Fingerprint("Copper surge", "body"))
	})
}

func TestExtractMentions(t *testing.T) {
	t.Parallel()

	t.Run("capitalized runs", func(t *testing.T) {
		mentions := ExtractMentions("Country X curbs Lithium exports", "Glencore and Codelco respond.")
		assert.Contains(t, mentions, "Country X")
		assert.Contains(t, mentions, "Lithium")
		assert.Contains(t, mentions, "Glencore")
		assert.Contains(t, mentions, "Codelco")
	})

	t.Run("order preserved and deduplicated", func(t *testing.T) {
		mentions := ExtractMentions("Lithium rally: Chile acts", "Chile expands LITHIUM output. Lithium again.")
		require.NotEmpty(t, mentions)
		assert.Equal(t, "Lithium", mentions[0])

		seen := map[string]int{}
		for _, m := range mentions {
			seen[m]++
			assert.Equal(t, 1, seen[m], m)
		}
	})

	t.Run("stop words excluded", func(t *testing.T) {
		mentions := ExtractMentions("The And This", "")
		assert.Empty(t, mentions)
	})
}
