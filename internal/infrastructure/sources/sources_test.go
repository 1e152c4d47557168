package sources

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"MaterialsMonitor/internal/domain"
	"MaterialsMonitor/internal/feed"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testQualityFilter() *QualityFilter {
	return NewQualityFilter(
		map[string]string{
			"home.treasury.gov": string(domain.QualityOfficial),
			"www.mining.com":    string(domain.QualityIndustry),
		},
		[]string{"spam.example.com"},
	)
}

func testRequest(feedID string, kind domain.SourceKind, endpoint, cursor string) feed.Request {
	return feed.Request{
		FeedID:            feedID,
		Kind:              kind,
		Endpoint:          endpoint,
		Cursor:            cursor,
		RequestsPerSecond: 100,
		Burst:             10,
	}
}

// collect drains an adapter sequence into documents plus the terminal
// error, mirroring how the pipeline consumes it.
func collect(t *testing.T, adapter feed.Adapter, req feed.Request) ([]feed.Document, error) {
	t.Helper()
	var docs []feed.Document
	for doc, err := range adapter.Fetch(context.Background(), req) {
		if err != nil {
			return docs, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
