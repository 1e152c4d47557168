package dedup

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"MaterialsMonitor/internal/domain"
	"MaterialsMonitor/internal/ports"
)

// MatchStage names which dedup stage produced the assignment.
type MatchStage string

const (
	StageExact     MatchStage = "exact"
	StageSimilar   MatchStage = "similar"
	StageSingleton MatchStage = "singleton"
)

// Config is the per-feed dedup tuning, externally configured.
type Config struct {
	Window    time.Duration
	Threshold float64
}

// Assignment is the cluster decision for one record. It is provisional:
// membership, primary election, and the cluster choice itself are
// re-validated inside the commit transaction against records other
// workers committed in the meantime.
type Assignment struct {
	ClusterID string
	Created   bool
	PrimaryID string
	Score     float64
	Stage     MatchStage
}

// Deduplicator assigns records to duplicate clusters using a shared,
// consistently-read store so concurrent feed workers converge on the
// same clusters.
type Deduplicator struct {
	store  ports.RecordStore
	logger *slog.Logger
}

// New wires the deduplicator to the shared record store.
func New(store ports.RecordStore, logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{store: store, logger: logger}
}

// Assign runs the two-stage match: exact fingerprint within the recency
// window, then similarity against pruned window candidates. It never
// fails: store errors degrade to a new singleton cluster, and the commit
// transaction re-runs both stages so a stale assignment still merges.
func (d *Deduplicator) Assign(ctx context.Context, rec domain.NormalizedRecord, cfg Config) Assignment {
	since := rec.PublishedAt.Add(-cfg.Window)

	if existing, err := d.store.FindByFingerprint(ctx, rec.Fingerprint, since); err != nil {
		d.logger.Warn("fingerprint lookup failed, falling back to singleton",
			"record", rec.ID, "error", err)
	} else if existing != nil && existing.ClusterID != "" {
		return Assignment{
			ClusterID: existing.ClusterID,
			Score:     1,
			Stage:     StageExact,
			PrimaryID: domain.ElectPrimary([]domain.ClusterMember{{
				RecordID:    existing.Record.ID,
				PublishedAt: existing.Record.PublishedAt,
			}, {
				RecordID:    rec.ID,
				PublishedAt: rec.PublishedAt,
			}}),
		}
	}

	candidates, err := d.store.Candidates(ctx, "", since, rec.PublishedAt.Add(cfg.Window))
	if err != nil {
		d.logger.Warn("candidate window query failed, falling back to singleton",
			"record", rec.ID, "error", err)
		return d.singleton(rec)
	}

	if match, ok := BestCluster(rec, candidates, cfg.Threshold); ok {
		return Assignment{ClusterID: match.ClusterID, Score: match.Score, Stage: StageSimilar}
	}
	return d.singleton(rec)
}

type clusterScore struct {
	id       string
	score    float64
	earliest time.Time
}

// Match is a near-duplicate cluster match.
type Match struct {
	ClusterID string
	Score     float64
}

// BestCluster scores the record against pruned candidates and picks the
// highest-scoring cluster over the threshold. Ties break by earliest
// member published-at, then lowest cluster id. Pure; the commit
// transaction re-runs it to merge assignments computed concurrently.
func BestCluster(rec domain.NormalizedRecord, candidates []ports.Candidate, threshold float64) (Match, bool) {
	byCluster := map[string]*clusterScore{}
	for _, cand := range candidates {
		if cand.Record.ID == rec.ID || cand.ClusterID == "" {
			continue
		}
		// Candidate pruning: same source-kind category, or a shared mention.
		if cand.Record.Kind != rec.Kind && !mentionsOverlap(cand.Record.Mentions, rec.Mentions) {
			continue
		}

		score := Similarity(rec, cand.Record)
		cs, ok := byCluster[cand.ClusterID]
		if !ok {
			cs = &clusterScore{id: cand.ClusterID, earliest: cand.Record.PublishedAt}
			byCluster[cand.ClusterID] = cs
		}
		if score > cs.score {
			cs.score = score
		}
		if cand.Record.PublishedAt.Before(cs.earliest) {
			cs.earliest = cand.Record.PublishedAt
		}
	}

	scored := make([]*clusterScore, 0, len(byCluster))
	for _, cs := range byCluster {
		if cs.score >= threshold {
			scored = append(scored, cs)
		}
	}
	if len(scored) == 0 {
		return Match{}, false
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if !scored[i].earliest.Equal(scored[j].earliest) {
			return scored[i].earliest.Before(scored[j].earliest)
		}
		return scored[i].id < scored[j].id
	})

	return Match{ClusterID: scored[0].id, Score: scored[0].score}, true
}

func (d *Deduplicator) singleton(rec domain.NormalizedRecord) Assignment {
	return Assignment{
		ClusterID: uuid.NewString(),
		Created:   true,
		PrimaryID: rec.ID,
		Stage:     StageSingleton,
	}
}
