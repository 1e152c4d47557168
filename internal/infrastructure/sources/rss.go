package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"MaterialsMonitor/internal/domain"
	"MaterialsMonitor/internal/feed"
	"MaterialsMonitor/internal/parser"
)

// RSSAdapter polls RSS feeds (news and industry sources). Each item is
// captured verbatim as the raw payload; all interpretation happens in
// the parser. The cursor is "publishedAt|guid" of the newest item whose
// processing was acknowledged.
type RSSAdapter struct {
	client  *client
	quality *QualityFilter
	logger  *slog.Logger
}

var _ feed.Adapter = (*RSSAdapter)(nil)

// NewRSSAdapter wires an HTTP client and the quality filter.
func NewRSSAdapter(httpClient *http.Client, quality *QualityFilter, logger *slog.Logger) *RSSAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RSSAdapter{client: newClient(httpClient), quality: quality, logger: logger}
}

// Name identifies the adapter inside the registry.
func (a *RSSAdapter) Name() string { return "rss" }

type rssEnvelope struct {
	XMLName xml.Name     `xml:"rss"`
	Items   []rssRawItem `xml:"channel>item"`
}

type rssRawItem struct {
	GUID    string `xml:"guid"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
	Inner   []byte `xml:",innerxml"`
}

// Fetch yields items newer than the cursor, oldest first, so per-document
// acknowledgement keeps the persisted cursor monotonic.
func (a *RSSAdapter) Fetch(ctx context.Context, req feed.Request) iter.Seq2[feed.Document, error] {
	return func(yield func(feed.Document, error) bool) {
		body, err := a.client.get(ctx, req.FeedID, req.Endpoint, req.AuthToken,
			RateLimit{RequestsPerSecond: req.RequestsPerSecond, Burst: req.Burst},
			"application/rss+xml,application/xml;q=0.9,*/*;q=0.8")
		if err != nil {
			yield(feed.Document{}, err)
			return
		}

		var envelope rssEnvelope
		if err := xml.Unmarshal(body, &envelope); err != nil {
			yield(feed.Document{}, &domain.FeedFormatError{
				SourceID: req.FeedID,
				Reason:   fmt.Sprintf("invalid rss: %v", err),
			})
			return
		}

		cursorTime, cursorGUID := splitRSSCursor(req.Cursor)
		fetchedAt := time.Now().UTC()

		type pending struct {
			item rssRawItem
			pub  time.Time
		}
		var items []pending
		for _, item := range envelope.Items {
			pub, err := parser.ParseFeedTime(item.PubDate)
			if err != nil {
				a.logger.Debug("rss item skipped, bad pubDate",
					"feed", req.FeedID, "pubDate", item.PubDate)
				continue
			}
			if pub.Before(cursorTime) || (pub.Equal(cursorTime) && itemGUID(item) == cursorGUID) {
				continue
			}
			if a.quality != nil && a.quality.Drop(item.Link) {
				a.logger.Debug("rss item dropped by quality filter",
					"feed", req.FeedID, "link", item.Link)
				continue
			}
			items = append(items, pending{item: item, pub: pub})
		}

		sort.Slice(items, func(i, j int) bool {
			if !items[i].pub.Equal(items[j].pub) {
				return items[i].pub.Before(items[j].pub)
			}
			return itemGUID(items[i].item) < itemGUID(items[j].item)
		})

		for _, p := range items {
			payload := []byte("<item>" + string(p.item.Inner) + "</item>")
			doc := feed.Document{
				Raw: domain.RawDocument{
					SourceID:    req.FeedID,
					Kind:        req.Kind,
					FetchedAt:   fetchedAt,
					Payload:     payload,
					ContentHash: hashPayload(payload),
				},
				Cursor: p.pub.Format(time.RFC3339) + "|" + itemGUID(p.item),
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

func itemGUID(item rssRawItem) string {
	if guid := strings.TrimSpace(item.GUID); guid != "" {
		return guid
	}
	return strings.TrimSpace(item.Link)
}

func splitRSSCursor(cursor string) (time.Time, string) {
	if cursor == "" {
		return time.Time{}, ""
	}
	parts := strings.SplitN(cursor, "|", 2)
	t, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		return time.Time{}, ""
	}
	guid := ""
	if len(parts) == 2 {
		guid = parts[1]
	}
	return t.UTC(), guid
}
