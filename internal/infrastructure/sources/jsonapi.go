package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"MaterialsMonitor/internal/domain"
	"MaterialsMonitor/internal/feed"
)

// JSONAPIAdapter polls GDELT-style article discovery APIs. Each article
// object is kept verbatim as the raw payload. The cursor is the compact
// seendate of the newest acknowledged article; compact seendates order
// lexicographically, so string comparison is chronological.
type JSONAPIAdapter struct {
	client  *client
	quality *QualityFilter
	logger  *slog.Logger
}

var _ feed.Adapter = (*JSONAPIAdapter)(nil)

// NewJSONAPIAdapter wires an HTTP client and the quality filter.
func NewJSONAPIAdapter(httpClient *http.Client, quality *QualityFilter, logger *slog.Logger) *JSONAPIAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONAPIAdapter{client: newClient(httpClient), quality: quality, logger: logger}
}

// Name identifies the adapter inside the registry.
func (a *JSONAPIAdapter) Name() string { return "jsonapi" }

type apiResponse struct {
	Status   string            `json:"status"`
	Message  string            `json:"message"`
	Articles []json.RawMessage `json:"articles"`
}

type apiArticleMeta struct {
	URL      string `json:"url"`
	SeenDate string `json:"seendate"`
}

// Fetch queries the API and yields unseen articles, oldest first.
// Options:
//
//	query     — upstream query expression (required).
//	timespan  — lookback window, default "7d".
//	maxrecords — page size, default "100".
func (a *JSONAPIAdapter) Fetch(ctx context.Context, req feed.Request) iter.Seq2[feed.Document, error] {
	return func(yield func(feed.Document, error) bool) {
		endpoint, err := buildQueryURL(req)
		if err != nil {
			yield(feed.Document{}, &domain.FeedFormatError{
				SourceID: req.FeedID,
				Reason:   fmt.Sprintf("endpoint: %v", err),
			})
			return
		}

		body, err := a.client.get(ctx, req.FeedID, endpoint, req.AuthToken,
			RateLimit{RequestsPerSecond: req.RequestsPerSecond, Burst: req.Burst}, "application/json")
		if err != nil {
			yield(feed.Document{}, err)
			return
		}

		var resp apiResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			yield(feed.Document{}, &domain.FeedFormatError{
				SourceID: req.FeedID,
				Reason:   fmt.Sprintf("invalid json: %v", err),
			})
			return
		}
		// The API reports some failures as HTTP 200 with an error status.
		if resp.Status == "error" {
			yield(feed.Document{}, &domain.FeedFormatError{
				SourceID: req.FeedID,
				Reason:   fmt.Sprintf("upstream error: %s", resp.Message),
			})
			return
		}

		type pending struct {
			raw  json.RawMessage
			seen string
		}
		var articles []pending
		for _, raw := range resp.Articles {
			var meta apiArticleMeta
			if err := json.Unmarshal(raw, &meta); err != nil {
				a.logger.Debug("article skipped, bad object", "feed", req.FeedID, "error", err)
				continue
			}
			if meta.SeenDate == "" || meta.SeenDate <= req.Cursor {
				continue
			}
			if a.quality != nil && a.quality.Drop(meta.URL) {
				a.logger.Debug("article dropped by quality filter",
					"feed", req.FeedID, "url", meta.URL)
				continue
			}
			articles = append(articles, pending{raw: raw, seen: meta.SeenDate})
		}

		sort.Slice(articles, func(i, j int) bool { return articles[i].seen < articles[j].seen })

		fetchedAt := time.Now().UTC()
		for _, art := range articles {
			doc := feed.Document{
				Raw: domain.RawDocument{
					SourceID:    req.FeedID,
					Kind:        req.Kind,
					FetchedAt:   fetchedAt,
					Payload:     []byte(art.raw),
					ContentHash: hashPayload(art.raw),
				},
				Cursor: art.seen,
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

func buildQueryURL(req feed.Request) (string, error) {
	parsed, err := url.Parse(req.Endpoint)
	if err != nil {
		return "", err
	}

	query := parsed.Query()
	if q := req.Options["query"]; q != "" {
		query.Set("query", q)
	}
	timespan := req.Options["timespan"]
	if timespan == "" {
		timespan = "7d"
	}
	maxRecords := req.Options["maxrecords"]
	if maxRecords == "" {
		maxRecords = "100"
	}
	query.Set("timespan", timespan)
	query.Set("maxrecords", maxRecords)
	query.Set("mode", "ArtList")
	query.Set("format", "json")
	query.Set("sort", "DateDesc")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
