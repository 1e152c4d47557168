package enrich

import (
	"sort"
	"strings"

	"MaterialsMonitor/internal/domain"
	"MaterialsMonitor/internal/resolve"
)

// Rule maps a keyword set to a tag with a severity weight and a reader-
// facing explanation of why the tag matters. Rule tables come from
// versioned configuration so curation teams can tune tagging without
// code changes.
type Rule struct {
	Tag          string
	Keywords     []string
	Severity     float64
	WhyItMatters string
}

// Config carries the rule table and score weights.
type Config struct {
	RuleVersion  string
	Rules        []Rule
	EntityWeight float64
	TrustWeights map[domain.SourceKind]float64
}

// Enricher computes tags and a relevance score for a normalized record.
// Pure: same record, resolutions, and rule table always produce the same
// enrichment; persistence is the orchestrator's job.
type Enricher struct {
	cfg Config
}

// New builds the enricher from a rule-table snapshot.
func New(cfg Config) *Enricher {
	return &Enricher{cfg: cfg}
}

// RuleVersion identifies the rule table behind produced enrichments.
func (e *Enricher) RuleVersion() string { return e.cfg.RuleVersion }

// Enrich tags the record and scores it from (a) resolved entity count and
// confidence, (b) matched tag severities, (c) source-kind trust. The raw
// weighted sum is squashed through s/(s+1), which keeps the score in
// [0,1) and monotonic in every input.
func (e *Enricher) Enrich(rec domain.NormalizedRecord, res resolve.Result, clusterID string) domain.EnrichedRecord {
	tags, why, severitySum := e.matchTags(rec)

	entities := make([]domain.ResolvedEntity, 0, len(res.Resolved))
	entitySum := 0.0
	for mention, resolution := range res.Resolved {
		entities = append(entities, domain.ResolvedEntity{
			EntityID:   resolution.EntityID,
			Mention:    mention,
			Confidence: resolution.Confidence,
		})
		entitySum += resolution.Confidence
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].EntityID != entities[j].EntityID {
			return entities[i].EntityID < entities[j].EntityID
		}
		return entities[i].Mention < entities[j].Mention
	})

	raw := e.cfg.EntityWeight*entitySum + severitySum + e.cfg.TrustWeights[rec.Kind]

	return domain.EnrichedRecord{
		RecordID:         rec.ID,
		Entities:         entities,
		Tags:             tags,
		WhyItMatters:     why,
		Score:            saturate(raw),
		ClusterID:        clusterID,
		RuleTableVersion: e.cfg.RuleVersion,
	}
}

// matchTags runs every rule's keyword list over the lowercased title+body.
// Returned tags are sorted, each matched rule's explanation follows tag
// order, and the severity sum feeds the score.
func (e *Enricher) matchTags(rec domain.NormalizedRecord) ([]string, []string, float64) {
	text := strings.ToLower(rec.Title + " " + rec.Body)

	type match struct {
		tag string
		why string
	}
	var (
		matches     []match
		severitySum float64
	)
	for _, rule := range e.cfg.Rules {
		for _, keyword := range rule.Keywords {
			if strings.Contains(text, strings.ToLower(keyword)) {
				matches = append(matches, match{tag: rule.Tag, why: rule.WhyItMatters})
				severitySum += rule.Severity
				break
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].tag < matches[j].tag })

	var (
		tags []string
		why  []string
	)
	for _, m := range matches {
		tags = append(tags, m.tag)
		if m.why != "" {
			why = append(why, m.why)
		}
	}
	return tags, why, severitySum
}

// saturate maps [0, inf) into [0, 1), monotonically.
func saturate(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	return raw / (raw + 1)
}
