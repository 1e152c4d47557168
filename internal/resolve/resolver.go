package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xrash/smetrics"

	"MaterialsMonitor/internal/domain"
	"MaterialsMonitor/internal/ports"
)

// fuzzyDamp keeps fuzzy confidences strictly below the exact-match 1.0.
const fuzzyDamp = 0.9

// Resolution links one mention to a canonical entity with a confidence.
type Resolution struct {
	EntityID   string
	Kind       domain.EntityKind
	Confidence float64
}

// Result is the outcome for one mention list. Unmatched mentions are not
// errors; they feed the reference-data curation workflow.
type Result struct {
	Resolved  map[string]Resolution
	Unmatched []string
}

type aliasEntry struct {
	entityID string
	kind     domain.EntityKind
	alias    string
}

// Resolver maps free-text mentions to canonical entities against one
// immutable snapshot of the entity store. Deterministic for a snapshot;
// results must not be reused across snapshot versions.
type Resolver struct {
	version       string
	minConfidence float64
	exact         map[string]aliasEntry
	aliases       []aliasEntry
}

// NewFromSnapshot builds the alias index. Entities are ordered by id and
// aliases alphabetically so resolution ties break the same way every run.
func NewFromSnapshot(entities []domain.CanonicalEntity, version string, minConfidence float64) *Resolver {
	sorted := make([]domain.CanonicalEntity, len(entities))
	copy(sorted, entities)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	r := &Resolver{
		version:       version,
		minConfidence: minConfidence,
		exact:         map[string]aliasEntry{},
	}
	for _, ent := range sorted {
		names := append([]string{ent.Name}, ent.Aliases...)
		sort.Strings(names)
		for _, name := range names {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" {
				continue
			}
			entry := aliasEntry{entityID: ent.ID, kind: ent.Kind, alias: key}
			if _, taken := r.exact[key]; !taken {
				r.exact[key] = entry
			}
			r.aliases = append(r.aliases, entry)
		}
	}
	return r
}

// Load reads the current snapshot from the entity store.
func Load(ctx context.Context, store ports.EntityStore, minConfidence float64) (*Resolver, error) {
	entities, version, err := store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entity snapshot: %w", err)
	}
	return NewFromSnapshot(entities, version, minConfidence), nil
}

// Version identifies the snapshot this resolver was built from.
func (r *Resolver) Version() string { return r.version }

// WithMinConfidence returns a resolver over the same snapshot with a
// different fuzzy acceptance floor. Feeds carry their own minimum.
func (r *Resolver) WithMinConfidence(min float64) *Resolver {
	if min <= 0 || min == r.minConfidence {
		return r
	}
	clone := *r
	clone.minConfidence = min
	return &clone
}

// Resolve maps each mention independently: exact case-insensitive alias
// match at confidence 1.0, then Jaro-Winkler fuzzy match scaled by
// similarity and accepted only above the configured minimum. A non-empty
// kind hint restricts fuzzy candidates to that kind. No cross-mention
// disambiguation happens here.
func (r *Resolver) Resolve(mentions []string, hint domain.EntityKind) Result {
	result := Result{Resolved: map[string]Resolution{}}

	for _, mention := range mentions {
		key := strings.ToLower(strings.TrimSpace(mention))
		if key == "" {
			continue
		}
		if _, done := result.Resolved[mention]; done {
			continue
		}

		if entry, ok := r.exact[key]; ok && (hint == "" || entry.kind == hint) {
			result.Resolved[mention] = Resolution{
				EntityID:   entry.entityID,
				Kind:       entry.kind,
				Confidence: 1.0,
			}
			continue
		}

		if res, ok := r.fuzzy(key, hint); ok {
			result.Resolved[mention] = res
			continue
		}

		result.Unmatched = append(result.Unmatched, mention)
	}

	return result
}

func (r *Resolver) fuzzy(mention string, hint domain.EntityKind) (Resolution, bool) {
	var (
		best    aliasEntry
		bestSim float64
	)
	for _, entry := range r.aliases {
		if hint != "" && entry.kind != hint {
			continue
		}
		sim := smetrics.JaroWinkler(mention, entry.alias, 0.7, 4)
		if sim > bestSim {
			bestSim = sim
			best = entry
		}
	}

	confidence := fuzzyDamp * bestSim
	if confidence < r.minConfidence {
		return Resolution{}, false
	}
	return Resolution{EntityID: best.entityID, Kind: best.kind, Confidence: confidence}, true
}
