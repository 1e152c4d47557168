package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"MaterialsMonitor/internal/config"
	"MaterialsMonitor/internal/dedup"
	"MaterialsMonitor/internal/domain"
	"MaterialsMonitor/internal/enrich"
	"MaterialsMonitor/internal/feed"
	"MaterialsMonitor/internal/metrics"
	"MaterialsMonitor/internal/parser"
	"MaterialsMonitor/internal/ports"
	"MaterialsMonitor/internal/resolve"
)

const (
	commitAttempts    = 3
	commitBackoffBase = 250 * time.Millisecond
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Registry *feed.Registry
	Parser   *parser.Parser
	Dedup    *dedup.Deduplicator
	Resolver *resolve.Resolver
	Enricher *enrich.Enricher
	Records  ports.RecordStore
	Cursors  ports.CursorStore
	Logger   *slog.Logger
}

// Pipeline drives each document through the state machine
// Fetched → Parsed → Deduplicated → Resolved → Enriched → Committed.
// Parse/dedup/resolve/enrich failures are isolated per document; only an
// exhausted commit halts the feed run, leaving the cursor behind the
// failed document for at-least-once redelivery.
type Pipeline struct {
	registry *feed.Registry
	parser   *parser.Parser
	dedup    *dedup.Deduplicator
	resolver *resolve.Resolver
	enricher *enrich.Enricher
	records  ports.RecordStore
	cursors  ports.CursorStore
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry: deps.Registry,
		parser:   deps.Parser,
		dedup:    deps.Dedup,
		resolver: deps.Resolver,
		enricher: deps.Enricher,
		records:  deps.Records,
		cursors:  deps.Cursors,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// RunFeed executes one poll of one feed, processing its documents
// sequentially to preserve the dedup window's temporal order. The
// persisted cursor advances per document only after that document
// reached a terminal state (committed, or failed non-fatally).
func (p *Pipeline) RunFeed(ctx context.Context, cfg config.FeedConfig) error {
	adapter, err := p.registry.Resolve(cfg.Adapter)
	if err != nil {
		return fmt.Errorf("feed %s: %w", cfg.ID, err)
	}

	cursor, err := p.cursors.LoadCursor(ctx, cfg.ID)
	if err != nil {
		return fmt.Errorf("feed %s: load cursor: %w", cfg.ID, err)
	}

	req := feed.Request{
		FeedID:            cfg.ID,
		Kind:              cfg.SourceKind(),
		Endpoint:          cfg.Endpoint,
		Cursor:            cursor,
		AuthToken:         cfg.AuthToken(),
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		Options:           cfg.Options,
	}

	log := p.logger.With("feed", cfg.ID)
	log.Debug("feed run start", "cursor", cursor)

	var processed int
	for doc, fetchErr := range adapter.Fetch(ctx, req) {
		if fetchErr != nil {
			var formatErr *domain.FeedFormatError
			if errors.As(fetchErr, &formatErr) {
				// Malformed upstream response: skip this poll, try again next run.
				log.Warn("feed poll skipped", "error", formatErr)
				return nil
			}
			return fmt.Errorf("feed %s: %w", cfg.ID, fetchErr)
		}

		// Cancellation is honored between documents, never mid-document.
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := p.processDocument(ctx, cfg, doc, log); err != nil {
			return fmt.Errorf("feed %s: %w", cfg.ID, err)
		}

		if err := p.cursors.SaveCursor(ctx, cfg.ID, doc.Cursor); err != nil {
			return fmt.Errorf("feed %s: save cursor: %w", cfg.ID, err)
		}
		processed++
	}

	log.Debug("feed run done", "documents", processed)
	return nil
}

// processDocument runs the state machine for one document. A nil return
// means the document reached a terminal state and its cursor token may be
// acknowledged; a non-nil return halts the feed run before the ack.
func (p *Pipeline) processDocument(ctx context.Context, cfg config.FeedConfig, doc feed.Document, log *slog.Logger) error {
	// Raw copy first, insert-if-absent by content hash. Best-effort: the
	// document is replayed from the feed on redelivery, not from here.
	if err := p.records.SaveRawDocument(ctx, doc.Raw); err != nil {
		log.Warn("raw document not persisted", "hash", doc.Raw.ContentHash, "error", err)
	}

	rec, err := p.parser.Parse(doc.Raw)
	if err != nil {
		p.failDocument(cfg.ID, doc.Raw, "parse", err, log)
		return nil
	}

	assignment := p.dedup.Assign(ctx, rec, dedup.Config{
		Window:    cfg.DedupWindow(),
		Threshold: cfg.SimilarityThreshold,
	})
	metrics.ClusterAssignmentsTotal.WithLabelValues(cfg.ID, string(assignment.Stage)).Inc()

	resolver := p.resolver.WithMinConfidence(cfg.MinResolveConfidence)
	result := resolver.Resolve(rec.Mentions, "")
	p.recordUnmatched(ctx, cfg.ID, rec, result.Unmatched, log)

	enriched := p.enricher.Enrich(rec, result, assignment.ClusterID)

	commit := ports.CommitRequest{
		Record:   rec,
		Enriched: enriched,
		Member: domain.ClusterMember{
			RecordID:       rec.ID,
			PublishedAt:    rec.PublishedAt,
			SourcePriority: cfg.Priority,
		},
		Dedup: ports.DedupCheck{
			Window:    cfg.DedupWindow(),
			Threshold: cfg.SimilarityThreshold,
		},
	}
	if err := p.commitWithRetry(ctx, cfg.ID, commit); err != nil {
		metrics.DocumentsTotal.WithLabelValues(cfg.ID, "commit_failed").Inc()
		return err
	}

	metrics.DocumentsTotal.WithLabelValues(cfg.ID, "committed").Inc()
	log.Debug("document committed",
		"record", rec.ID,
		"cluster", assignment.ClusterID,
		"stage", assignment.Stage,
		"score", enriched.Score,
		"tags", enriched.Tags)
	return nil
}

// commitWithRetry retries storage commits with exponential backoff.
// Exhausting the attempts aborts the feed run with the last error.
func (p *Pipeline) commitWithRetry(ctx context.Context, feedID string, req ports.CommitRequest) error {
	backoff := commitBackoffBase
	var lastErr error
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		lastErr = p.records.CommitEnriched(ctx, req)
		if lastErr == nil {
			return nil
		}
		if attempt == commitAttempts {
			break
		}
		metrics.CommitRetriesTotal.WithLabelValues(feedID).Inc()
		p.logger.Warn("commit failed, retrying",
			"feed", feedID, "record", req.Record.ID, "attempt", attempt, "error", lastErr)
		if err := p.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
	return lastErr
}

// failDocument records a non-fatal per-document failure. The op names the
// operation that failed, not the last stage reached, so the metric reads
// failed_parse rather than the stage the document never left.
func (p *Pipeline) failDocument(feedID string, raw domain.RawDocument, op string, cause error, log *slog.Logger) {
	metrics.DocumentsTotal.WithLabelValues(feedID, "failed_"+op).Inc()
	// Enough context to replay the document manually.
	log.Warn("document failed",
		"source", raw.SourceID,
		"payload_hash", raw.ContentHash,
		"failed_op", op,
		"reason", cause)
}

func (p *Pipeline) recordUnmatched(ctx context.Context, feedID string, rec domain.NormalizedRecord, unmatched []string, log *slog.Logger) {
	if len(unmatched) == 0 {
		return
	}
	metrics.UnmatchedMentionsTotal.WithLabelValues(feedID).Add(float64(len(unmatched)))

	proposals := make([]domain.UnmatchedMention, 0, len(unmatched))
	for _, mention := range unmatched {
		proposals = append(proposals, domain.UnmatchedMention{
			Mention:    mention,
			RecordID:   rec.ID,
			SourceID:   rec.SourceID,
			ObservedAt: rec.PublishedAt,
		})
	}
	if err := p.records.SaveUnmatchedMentions(ctx, proposals); err != nil {
		log.Warn("unmatched mentions not persisted", "record", rec.ID, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
