package sources

import (
	"net/url"
	"strings"

	"MaterialsMonitor/internal/domain"
)

// QualityFilter classifies upstream domains and drops known spam hosts.
// Both tables are externally configured reference data, not logic.
type QualityFilter struct {
	allow map[string]domain.SourceQuality
	block map[string]bool
}

// NewQualityFilter builds the filter from config tables. Domain keys are
// matched case-insensitively.
func NewQualityFilter(allowlist map[string]string, blocklist []string) *QualityFilter {
	f := &QualityFilter{
		allow: map[string]domain.SourceQuality{},
		block: map[string]bool{},
	}
	for host, quality := range allowlist {
		f.allow[strings.ToLower(host)] = domain.SourceQuality(quality)
	}
	for _, host := range blocklist {
		f.block[strings.ToLower(host)] = true
	}
	return f
}

// Classify returns the configured quality label for the URL's host,
// defaulting to OTHER for unknown domains.
func (f *QualityFilter) Classify(rawURL string) domain.SourceQuality {
	if quality, ok := f.allow[hostOf(rawURL)]; ok {
		return quality
	}
	return domain.QualityOther
}

// Drop reports whether the URL should be discarded at ingest. Only
// untrusted (OTHER) domains are ever dropped, and only when blocklisted.
func (f *QualityFilter) Drop(rawURL string) bool {
	host := hostOf(rawURL)
	return f.Classify(rawURL) == domain.QualityOther && f.block[host]
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
