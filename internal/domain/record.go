package domain

import "time"

// SourceKind is the closed set of supported feed categories.
type SourceKind string

const (
	KindNews     SourceKind = "news"
	KindPolicy   SourceKind = "policy"
	KindMarket   SourceKind = "market"
	KindIndustry SourceKind = "industry"
)

// Valid reports whether the kind belongs to the supported set.
func (k SourceKind) Valid() bool {
	switch k {
	case KindNews, KindPolicy, KindMarket, KindIndustry:
		return true
	}
	return false
}

// SourceQuality classifies the trustworthiness of an upstream domain.
type SourceQuality string

const (
	QualityOfficial   SourceQuality = "OFFICIAL"
	QualityMajorMedia SourceQuality = "MAJOR_MEDIA"
	QualityIndustry   SourceQuality = "INDUSTRY"
	QualityOther      SourceQuality = "OTHER"
)

// RawDocument is an opaque payload fetched from one feed.
// Immutable once fetched; stored insert-if-absent by ContentHash.
type RawDocument struct {
	SourceID    string
	Kind        SourceKind
	FetchedAt   time.Time
	Payload     []byte
	ContentHash string
}

// NormalizedRecord is the parsed, source-independent form of a document.
// Never mutated after creation; a correction is a new record pointing at
// the version it replaces via PrevVersionID.
type NormalizedRecord struct {
	ID            string
	Title         string
	Body          string
	PublishedAt   time.Time
	SourceURI     string
	SourceID      string
	Kind          SourceKind
	Mentions      []string
	Fingerprint   string
	PrevVersionID string
}

// ClusterMember is one record's membership in a duplicate cluster,
// carrying the fields primary election depends on.
type ClusterMember struct {
	RecordID       string
	PublishedAt    time.Time
	SourcePriority int
}

// DuplicateCluster groups records believed to describe one underlying event.
type DuplicateCluster struct {
	ID        string
	Members   []ClusterMember
	PrimaryID string
}

// Contains reports whether the record is already a member.
func (c *DuplicateCluster) Contains(recordID string) bool {
	for _, m := range c.Members {
		if m.RecordID == recordID {
			return true
		}
	}
	return false
}

// ElectPrimary returns the record id that should be the cluster primary:
// earliest published-at, ties broken by lower source priority number,
// then lexicographically smallest record id. Empty input yields "".
func ElectPrimary(members []ClusterMember) string {
	if len(members) == 0 {
		return ""
	}
	best := members[0]
	for _, m := range members[1:] {
		switch {
		case m.PublishedAt.Before(best.PublishedAt):
			best = m
		case m.PublishedAt.Equal(best.PublishedAt):
			if m.SourcePriority < best.SourcePriority ||
				(m.SourcePriority == best.SourcePriority && m.RecordID < best.RecordID) {
				best = m
			}
		}
	}
	return best.RecordID
}

// EntityKind is the closed set of canonical entity categories.
type EntityKind string

const (
	EntityMaterial EntityKind = "material"
	EntityCountry  EntityKind = "country"
	EntityCompany  EntityKind = "company"
)

// CanonicalEntity is the authoritative identity for a material, country,
// or company, maintained by the reference-data collaborator.
type CanonicalEntity struct {
	ID      string
	Kind    EntityKind
	Name    string
	Aliases []string
}

// ResolvedEntity links a record to a canonical entity with a confidence.
type ResolvedEntity struct {
	EntityID   string
	Mention    string
	Confidence float64
}

// EnrichedRecord is the final pipeline output for one normalized record.
// WhyItMatters carries the rule-table explanation for each matched tag,
// in tag order, for downstream readers.
type EnrichedRecord struct {
	RecordID         string
	Entities         []ResolvedEntity
	Tags             []string
	WhyItMatters     []string
	Score            float64
	ClusterID        string
	RuleTableVersion string
}

// Stage enumerates pipeline milestones for a single document.
type Stage string

const (
	StageFetched      Stage = "fetched"
	StageParsed       Stage = "parsed"
	StageDeduplicated Stage = "deduplicated"
	StageResolved     Stage = "resolved"
	StageEnriched     Stage = "enriched"
	StageCommitted    Stage = "committed"
	StageFailed       Stage = "failed"
)

// UnmatchedMention is a curation proposal for the reference-data workflow.
type UnmatchedMention struct {
	Mention    string
	RecordID   string
	SourceID   string
	ObservedAt time.Time
}
