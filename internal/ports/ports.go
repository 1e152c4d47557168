package ports

import (
	"context"
	"time"

	"MaterialsMonitor/internal/domain"
)

// Candidate is a stored record together with its cluster assignment,
// returned by dedup window queries.
type Candidate struct {
	Record    domain.NormalizedRecord
	ClusterID string
}

// DedupCheck parameterizes the in-transaction re-validation of a
// provisional cluster assignment. The assignment was computed outside
// the transaction; records committed by concurrent workers in between
// are matched again here so one event converges on one cluster. A zero
// window disables the check.
type DedupCheck struct {
	Window    time.Duration
	Threshold float64
}

// CommitRequest bundles everything that must land in one transaction:
// the normalized record, its enrichment, and the cluster-membership
// update (including primary re-election against the members read inside
// the same transaction). Enriched.ClusterID is the provisional cluster;
// the store retargets it when Dedup re-validation finds an existing
// match.
type CommitRequest struct {
	Record   domain.NormalizedRecord
	Enriched domain.EnrichedRecord
	Member   domain.ClusterMember
	Dedup    DedupCheck
}

// RecordStore persists raw, normalized, and enriched records plus
// duplicate clusters. It is shared across feed workers so cross-feed
// duplicates cluster correctly.
type RecordStore interface {
	// SaveRawDocument inserts the document if its content hash is absent.
	SaveRawDocument(ctx context.Context, doc domain.RawDocument) error

	// FindByFingerprint returns the stored record with the given content
	// fingerprint published at or after since, or nil if none exists.
	FindByFingerprint(ctx context.Context, fingerprint string, since time.Time) (*Candidate, error)

	// Candidates returns records of the given kind published inside
	// [from, to], with their cluster assignments, ordered by published-at.
	// An empty kind returns candidates of every kind.
	Candidates(ctx context.Context, kind domain.SourceKind, from, to time.Time) ([]Candidate, error)

	// Cluster loads one cluster with its full membership.
	Cluster(ctx context.Context, id string) (*domain.DuplicateCluster, error)

	// CommitEnriched atomically inserts the record and its enrichment and
	// applies the cluster-membership update. Inside the same transaction
	// it re-validates the dedup assignment (retargeting the cluster when
	// a concurrent commit produced a match) and re-elects the cluster
	// primary against the membership it reads. Storage failures are
	// returned as *domain.CommitError.
	CommitEnriched(ctx context.Context, req CommitRequest) error

	// SaveUnmatchedMentions records curation proposals for the
	// reference-data workflow. Best-effort; duplicates are ignored.
	SaveUnmatchedMentions(ctx context.Context, mentions []domain.UnmatchedMention) error
}

// EntityStore reads the canonical-entity reference data. The core never
// writes entities; alias proposals go through SaveUnmatchedMentions.
type EntityStore interface {
	// Snapshot returns all entities plus the snapshot version they belong
	// to. Resolution results are only valid for one snapshot version.
	Snapshot(ctx context.Context) ([]domain.CanonicalEntity, string, error)
}

// CursorStore persists per-feed polling cursors. A cursor is advanced
// only after the caller acknowledges processing of the document it
// covers, giving at-least-once delivery to the parser.
type CursorStore interface {
	LoadCursor(ctx context.Context, feedID string) (string, error)
	SaveCursor(ctx context.Context, feedID, cursor string) error
}
