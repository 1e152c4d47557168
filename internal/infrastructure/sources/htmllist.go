package sources

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"MaterialsMonitor/internal/domain"
	"MaterialsMonitor/internal/feed"
)

// minEntryTextLen filters navigation chrome out of scraped link lists.
const minEntryTextLen = 13

// maxListEntries bounds one poll of a list page.
const maxListEntries = 60

// HTMLListAdapter scrapes official list pages (press releases, recent
// actions) that expose no feed. Each matching list entry becomes one
// document whose payload is a small envelope of the entry's outer HTML
// plus the page base, keeping the parser free of I/O concerns. The
// cursor is a digest of the entry URLs last seen: an unchanged page
// yields nothing.
type HTMLListAdapter struct {
	client  *client
	quality *QualityFilter
	logger  *slog.Logger
}

var _ feed.Adapter = (*HTMLListAdapter)(nil)

// NewHTMLListAdapter wires an HTTP client and the quality filter.
func NewHTMLListAdapter(httpClient *http.Client, quality *QualityFilter, logger *slog.Logger) *HTMLListAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTMLListAdapter{client: newClient(httpClient), quality: quality, logger: logger}
}

// Name identifies the adapter inside the registry.
func (a *HTMLListAdapter) Name() string { return "htmllist" }

// Fetch scrapes the configured page. Options:
//
//	linkContains — required substring of entry hrefs (e.g. "/news/press-releases/").
//
// The page digest only lands in the cursor of the final document, so a
// halted run redelivers the remainder of the page next time.
func (a *HTMLListAdapter) Fetch(ctx context.Context, req feed.Request) iter.Seq2[feed.Document, error] {
	return func(yield func(feed.Document, error) bool) {
		body, err := a.client.get(ctx, req.FeedID, req.Endpoint, req.AuthToken,
			RateLimit{RequestsPerSecond: req.RequestsPerSecond, Burst: req.Burst}, "text/html")
		if err != nil {
			yield(feed.Document{}, err)
			return
		}

		page, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			yield(feed.Document{}, &domain.FeedFormatError{
				SourceID: req.FeedID,
				Reason:   fmt.Sprintf("invalid html: %v", err),
			})
			return
		}

		base, err := pageBase(req.Endpoint)
		if err != nil {
			yield(feed.Document{}, &domain.FeedFormatError{
				SourceID: req.FeedID,
				Reason:   fmt.Sprintf("endpoint url: %v", err),
			})
			return
		}

		linkContains := req.Options["linkContains"]
		fetchedAt := time.Now().UTC().Format(time.RFC3339)

		var (
			entries []string
			hrefs   []string
		)
		page.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			href, _ := sel.Attr("href")
			text := strings.TrimSpace(sel.Text())
			if text == "" || len(text) < minEntryTextLen {
				return true
			}
			if linkContains != "" && !strings.Contains(href, linkContains) {
				return true
			}
			full := href
			if !strings.HasPrefix(full, "http") {
				full = base + href
			}
			if a.quality != nil && a.quality.Drop(full) {
				return true
			}

			outer, err := goquery.OuterHtml(sel)
			if err != nil {
				return true
			}
			entries = append(entries, outer)
			hrefs = append(hrefs, full)
			return len(entries) < maxListEntries
		})

		digest := listDigest(hrefs)
		if digest == req.Cursor {
			a.logger.Debug("list page unchanged", "feed", req.FeedID)
			return
		}

		for i, outer := range entries {
			payload, err := json.Marshal(struct {
				Base      string `json:"base"`
				HTML      string `json:"html"`
				FetchedAt string `json:"fetchedAt"`
			}{Base: base, HTML: outer, FetchedAt: fetchedAt})
			if err != nil {
				yield(feed.Document{}, &domain.FeedFormatError{
					SourceID: req.FeedID,
					Reason:   fmt.Sprintf("encode entry: %v", err),
				})
				return
			}

			cursor := req.Cursor
			if i == len(entries)-1 {
				cursor = digest
			}
			doc := feed.Document{
				Raw: domain.RawDocument{
					SourceID:    req.FeedID,
					Kind:        req.Kind,
					FetchedAt:   time.Now().UTC(),
					Payload:     payload,
					ContentHash: hashPayload(payload),
				},
				Cursor: cursor,
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

func pageBase(endpoint string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("missing scheme or host in %q", endpoint)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

func listDigest(hrefs []string) string {
	sum := sha256.Sum256([]byte(strings.Join(hrefs, "\n")))
	return hex.EncodeToString(sum[:])
}
