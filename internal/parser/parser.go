package parser

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"MaterialsMonitor/internal/domain"
)

// Parser converts raw documents into normalized records. Pure: no I/O,
// no clock, deterministic for a given payload. The set of source kinds is
// closed; an unknown kind is a ParseError, not a fallback path.
type Parser struct{}

// New builds the parser.
func New() *Parser {
	return &Parser{}
}

// Parse dispatches to the source-kind variant.
func (p *Parser) Parse(doc domain.RawDocument) (domain.NormalizedRecord, error) {
	switch doc.Kind {
	case domain.KindNews:
		return p.parseFeedItem(doc, true)
	case domain.KindIndustry:
		return p.parseFeedItem(doc, false)
	case domain.KindPolicy:
		return p.parsePolicyEntry(doc)
	case domain.KindMarket:
		return p.parseMarketArticle(doc)
	default:
		return domain.NormalizedRecord{}, parseErr(doc, fmt.Sprintf("unsupported source kind %q", doc.Kind))
	}
}

// feedItem is the RSS <item> element captured verbatim by the rss adapter.
type feedItem struct {
	XMLName     xml.Name `xml:"item"`
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	GUID        string   `xml:"guid"`
	Description string   `xml:"description"`
	Encoded     string   `xml:"encoded"`
	PubDate     string   `xml:"pubDate"`
}

// parseFeedItem handles RSS payloads. News descriptions carry HTML
// boilerplate that gets stripped; industry feeds are trusted to be
// mostly plain and only have tags removed.
func (p *Parser) parseFeedItem(doc domain.RawDocument, stripBoilerplate bool) (domain.NormalizedRecord, error) {
	var item feedItem
	if err := xml.Unmarshal(doc.Payload, &item); err != nil {
		return domain.NormalizedRecord{}, parseErr(doc, fmt.Sprintf("invalid rss item: %v", err))
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		return domain.NormalizedRecord{}, parseErr(doc, "rss item has no title")
	}
	uri := strings.TrimSpace(item.Link)
	if uri == "" {
		uri = strings.TrimSpace(item.GUID)
	}
	if uri == "" {
		return domain.NormalizedRecord{}, parseErr(doc, "rss item has no link")
	}

	rawBody := item.Description
	if rawBody == "" {
		rawBody = item.Encoded
	}
	body, err := stripHTML(rawBody, stripBoilerplate)
	if err != nil {
		return domain.NormalizedRecord{}, parseErr(doc, fmt.Sprintf("description html: %v", err))
	}

	publishedAt, err := ParseFeedTime(item.PubDate)
	if err != nil {
		return domain.NormalizedRecord{}, parseErr(doc, fmt.Sprintf("pubDate %q: %v", item.PubDate, err))
	}

	return p.build(doc, title, body, uri, publishedAt), nil
}

// policyEnvelope is the adapter-side wrapper for one list entry scraped
// from an official policy page. The adapter records the page base URL and
// fetch time so parsing stays pure.
type policyEnvelope struct {
	Base      string `json:"base"`
	HTML      string `json:"html"`
	FetchedAt string `json:"fetchedAt"`
}

func (p *Parser) parsePolicyEntry(doc domain.RawDocument) (domain.NormalizedRecord, error) {
	var env policyEnvelope
	if err := json.Unmarshal(doc.Payload, &env); err != nil {
		return domain.NormalizedRecord{}, parseErr(doc, fmt.Sprintf("invalid policy envelope: %v", err))
	}

	sel, err := goquery.NewDocumentFromReader(strings.NewReader(env.HTML))
	if err != nil {
		return domain.NormalizedRecord{}, parseErr(doc, fmt.Sprintf("entry html: %v", err))
	}

	link := sel.Find("a[href]").First()
	title := strings.TrimSpace(link.Text())
	if title == "" {
		title = strings.TrimSpace(sel.Text())
	}
	if title == "" {
		return domain.NormalizedRecord{}, parseErr(doc, "policy entry has no title text")
	}

	href, _ := link.Attr("href")
	if href == "" {
		return domain.NormalizedRecord{}, parseErr(doc, "policy entry has no href")
	}
	if !strings.HasPrefix(href, "http") {
		href = strings.TrimSuffix(env.Base, "/") + href
	}

	publishedAt, err := time.Parse(time.RFC3339, env.FetchedAt)
	if err != nil {
		return domain.NormalizedRecord{}, parseErr(doc, fmt.Sprintf("fetchedAt %q: %v", env.FetchedAt, err))
	}

	// List pages rarely expose summaries; the title is the body.
	return p.build(doc, title, title, href, publishedAt.UTC()), nil
}

// marketArticle is one article object from a GDELT-style discovery API.
type marketArticle struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Snippet  string `json:"snippet"`
	SeenDate string `json:"seendate"`
	Domain   string `json:"domain"`
}

func (p *Parser) parseMarketArticle(doc domain.RawDocument) (domain.NormalizedRecord, error) {
	var art marketArticle
	if err := json.Unmarshal(doc.Payload, &art); err != nil {
		return domain.NormalizedRecord{}, parseErr(doc, fmt.Sprintf("invalid article object: %v", err))
	}
	if art.Title == "" || art.URL == "" {
		return domain.NormalizedRecord{}, parseErr(doc, "article object missing title or url")
	}

	publishedAt, err := parseSeenDate(art.SeenDate)
	if err != nil {
		return domain.NormalizedRecord{}, parseErr(doc, fmt.Sprintf("seendate %q: %v", art.SeenDate, err))
	}

	body, err := stripHTML(art.Snippet, false)
	if err != nil {
		return domain.NormalizedRecord{}, parseErr(doc, fmt.Sprintf("snippet html: %v", err))
	}

	return p.build(doc, strings.TrimSpace(art.Title), body, art.URL, publishedAt), nil
}

func (p *Parser) build(doc domain.RawDocument, title, body, uri string, publishedAt time.Time) domain.NormalizedRecord {
	return domain.NormalizedRecord{
		ID:          RecordID(uri, title),
		Title:       title,
		Body:        body,
		PublishedAt: publishedAt.UTC(),
		SourceURI:   uri,
		SourceID:    doc.SourceID,
		Kind:        doc.Kind,
		Mentions:    ExtractMentions(title, body),
		Fingerprint: Fingerprint(title, body),
	}
}

// stripHTML extracts text from an HTML fragment. With boilerplate
// stripping, script/style/nav/aside/figure subtrees are dropped first.
func stripHTML(fragment string, boilerplate bool) (string, error) {
	if fragment == "" {
		return "", nil
	}
	sel, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", err
	}
	if boilerplate {
		sel.Find("script,style,nav,aside,figure,footer").Remove()
	}
	return strings.Join(strings.Fields(sel.Text()), " "), nil
}

var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// ParseFeedTime parses a feed timestamp against the accepted layouts,
// normalized to UTC. Adapters that need pubDate for cursor ordering share
// this list so they accept exactly what parsing accepts.
func ParseFeedTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp layout")
}

// parseSeenDate accepts GDELT's compact form (20240101T080000Z) or RFC3339.
func parseSeenDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty seendate")
	}
	if t, err := time.Parse("20060102T150405Z", value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized seendate layout")
}

func parseErr(doc domain.RawDocument, reason string) *domain.ParseError {
	return &domain.ParseError{
		SourceID: doc.SourceID,
		Hash:     doc.ContentHash,
		Reason:   reason,
	}
}
