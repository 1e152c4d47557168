package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"MaterialsMonitor/internal/dedup"
	"MaterialsMonitor/internal/domain"
	"MaterialsMonitor/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS raw_documents (
	content_hash TEXT PRIMARY KEY,
	source_id    TEXT NOT NULL,
	kind         TEXT NOT NULL,
	fetched_at   TEXT NOT NULL,
	payload      BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	body            TEXT NOT NULL,
	published_at    TEXT NOT NULL,
	source_uri      TEXT NOT NULL,
	source_id       TEXT NOT NULL,
	kind            TEXT NOT NULL,
	mentions        TEXT NOT NULL,
	fingerprint     TEXT NOT NULL,
	prev_version_id TEXT NOT NULL DEFAULT '',
	cluster_id      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_records_fingerprint ON records (fingerprint, published_at);
CREATE INDEX IF NOT EXISTS idx_records_window ON records (kind, published_at);
CREATE TABLE IF NOT EXISTS clusters (
	id         TEXT PRIMARY KEY,
	primary_id TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS cluster_members (
	cluster_id      TEXT NOT NULL,
	record_id       TEXT NOT NULL,
	published_at    TEXT NOT NULL,
	source_priority INTEGER NOT NULL,
	PRIMARY KEY (cluster_id, record_id)
);
CREATE TABLE IF NOT EXISTS enriched_records (
	record_id          TEXT PRIMARY KEY,
	cluster_id         TEXT NOT NULL,
	entities           TEXT NOT NULL,
	tags               TEXT NOT NULL,
	why_it_matters     TEXT NOT NULL,
	score              REAL NOT NULL,
	rule_table_version TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS unmatched_mentions (
	mention     TEXT NOT NULL,
	record_id   TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	observed_at TEXT NOT NULL,
	PRIMARY KEY (mention, record_id)
);
CREATE TABLE IF NOT EXISTS cursors (
	feed_id    TEXT PRIMARY KEY,
	cursor     TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entities (
	id      TEXT PRIMARY KEY,
	kind    TEXT NOT NULL,
	name    TEXT NOT NULL,
	aliases TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entity_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const timeLayout = time.RFC3339Nano

// SQLiteStore is the shared record, cluster, and cursor store backing all
// feed workers. One handle is safe for concurrent use; conflicting
// writers are resolved by the commit path's optimistic retry.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ ports.RecordStore = (*SQLiteStore)(nil)
	_ ports.CursorStore = (*SQLiteStore)(nil)
)

// Open opens (and if needed creates) the database at path and applies
// the schema. Use ":memory:" for tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:?mode=memory"
	} else {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The sqlite driver serializes writers; one connection avoids
	// spurious table-lock errors from the in-memory mode.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStore wraps an existing handle (tests, shared pools).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close releases the underlying handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// DB exposes the handle for collaborators sharing the database file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// SaveRawDocument inserts the document if its content hash is absent.
func (s *SQLiteStore) SaveRawDocument(ctx context.Context, doc domain.RawDocument) error {
	query, args, err := sq.Insert("raw_documents").
		Columns("content_hash", "source_id", "kind", "fetched_at", "payload").
		Values(doc.ContentHash, doc.SourceID, string(doc.Kind), doc.FetchedAt.UTC().Format(timeLayout), doc.Payload).
		Suffix("ON CONFLICT (content_hash) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build raw insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert raw document: %w", err)
	}
	return nil
}

// FindByFingerprint returns the stored record with the fingerprint
// published at or after since, or nil when absent.
func (s *SQLiteStore) FindByFingerprint(ctx context.Context, fingerprint string, since time.Time) (*ports.Candidate, error) {
	return findByFingerprint(ctx, s.db, fingerprint, since, "")
}

func findByFingerprint(ctx context.Context, q querier, fingerprint string, since time.Time, excludeID string) (*ports.Candidate, error) {
	builder := recordSelect().
		Where(sq.Eq{"fingerprint": fingerprint}).
		Where(sq.GtOrEq{"published_at": since.UTC().Format(timeLayout)}).
		OrderBy("published_at ASC").
		Limit(1)
	if excludeID != "" {
		builder = builder.Where(sq.NotEq{"id": excludeID})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fingerprint query: %w", err)
	}

	row := q.QueryRowContext(ctx, query, args...)
	cand, err := scanCandidate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query fingerprint: %w", err)
	}
	return cand, nil
}

// Candidates returns window candidates with cluster assignments, ordered
// by published-at. An empty kind matches every kind.
func (s *SQLiteStore) Candidates(ctx context.Context, kind domain.SourceKind, from, to time.Time) ([]ports.Candidate, error) {
	return queryCandidates(ctx, s.db, kind, from, to)
}

func queryCandidates(ctx context.Context, q querier, kind domain.SourceKind, from, to time.Time) ([]ports.Candidate, error) {
	builder := recordSelect().
		Where(sq.GtOrEq{"published_at": from.UTC().Format(timeLayout)}).
		Where(sq.LtOrEq{"published_at": to.UTC().Format(timeLayout)}).
		OrderBy("published_at ASC", "id ASC")
	if kind != "" {
		builder = builder.Where(sq.Eq{"kind": string(kind)})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build candidate query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []ports.Candidate
	for rows.Next() {
		cand, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, *cand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candidate rows: %w", err)
	}
	return candidates, nil
}

// Cluster loads one cluster with its full membership.
func (s *SQLiteStore) Cluster(ctx context.Context, id string) (*domain.DuplicateCluster, error) {
	var primaryID string
	err := s.db.QueryRowContext(ctx, `SELECT primary_id FROM clusters WHERE id = ?`, id).Scan(&primaryID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cluster: %w", err)
	}

	members, err := s.clusterMembers(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &domain.DuplicateCluster{ID: id, Members: members, PrimaryID: primaryID}, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) clusterMembers(ctx context.Context, q querier, clusterID string) ([]domain.ClusterMember, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT record_id, published_at, source_priority FROM cluster_members WHERE cluster_id = ? ORDER BY record_id`,
		clusterID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []domain.ClusterMember
	for rows.Next() {
		var (
			member      domain.ClusterMember
			publishedAt string
		)
		if err := rows.Scan(&member.RecordID, &publishedAt, &member.SourcePriority); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		member.PublishedAt, err = time.Parse(timeLayout, publishedAt)
		if err != nil {
			return nil, fmt.Errorf("member published_at: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("member rows: %w", err)
	}
	return members, nil
}

// CommitEnriched lands the record, its enrichment, and the cluster
// update in one transaction. The dedup assignment is re-validated, the
// membership re-read, and the primary re-elected inside the transaction;
// a conflicting concurrent writer triggers one optimistic retry.
func (s *SQLiteStore) CommitEnriched(ctx context.Context, req ports.CommitRequest) error {
	err := s.commitOnce(ctx, req)
	if err != nil && isBusy(err) {
		err = s.commitOnce(ctx, req)
	}
	if err != nil {
		return &domain.CommitError{RecordID: req.Record.ID, Err: err}
	}
	return nil
}

func (s *SQLiteStore) commitOnce(ctx context.Context, req ports.CommitRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rec := req.Record
	clusterID, err := resolveCluster(ctx, tx, req)
	if err != nil {
		return fmt.Errorf("revalidate assignment: %w", err)
	}

	mentions, err := json.Marshal(rec.Mentions)
	if err != nil {
		return fmt.Errorf("encode mentions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (id, title, body, published_at, source_uri, source_id, kind, mentions, fingerprint, prev_version_id, cluster_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET cluster_id = excluded.cluster_id`,
		rec.ID, rec.Title, rec.Body, rec.PublishedAt.UTC().Format(timeLayout), rec.SourceURI,
		rec.SourceID, string(rec.Kind), string(mentions), rec.Fingerprint, rec.PrevVersionID, clusterID,
	); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO clusters (id, primary_id, version) VALUES (?, ?, 0)
		 ON CONFLICT (id) DO NOTHING`,
		clusterID, rec.ID,
	); err != nil {
		return fmt.Errorf("insert cluster: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cluster_members (cluster_id, record_id, published_at, source_priority)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (cluster_id, record_id) DO NOTHING`,
		clusterID, req.Member.RecordID, req.Member.PublishedAt.UTC().Format(timeLayout), req.Member.SourcePriority,
	); err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}

	members, err := s.clusterMembers(ctx, tx, clusterID)
	if err != nil {
		return err
	}
	primary := domain.ElectPrimary(members)
	if _, err := tx.ExecContext(ctx,
		`UPDATE clusters SET primary_id = ?, version = version + 1 WHERE id = ?`,
		primary, clusterID,
	); err != nil {
		return fmt.Errorf("update primary: %w", err)
	}

	entities, err := json.Marshal(req.Enriched.Entities)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}
	tags, err := json.Marshal(req.Enriched.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	why, err := json.Marshal(req.Enriched.WhyItMatters)
	if err != nil {
		return fmt.Errorf("encode why_it_matters: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO enriched_records (record_id, cluster_id, entities, tags, why_it_matters, score, rule_table_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (record_id) DO UPDATE SET
		   cluster_id = excluded.cluster_id,
		   entities = excluded.entities,
		   tags = excluded.tags,
		   why_it_matters = excluded.why_it_matters,
		   score = excluded.score,
		   rule_table_version = excluded.rule_table_version`,
		req.Enriched.RecordID, clusterID, string(entities), string(tags), string(why),
		req.Enriched.Score, req.Enriched.RuleTableVersion,
	); err != nil {
		return fmt.Errorf("insert enriched: %w", err)
	}

	return tx.Commit()
}

// resolveCluster re-runs both dedup stages against the state visible
// inside the transaction. Two workers can assign near-duplicate records
// before either commits; whichever commits second finds the first here
// and merges instead of landing a second cluster for the same event.
func resolveCluster(ctx context.Context, tx *sql.Tx, req ports.CommitRequest) (string, error) {
	provisional := req.Enriched.ClusterID
	if req.Dedup.Window <= 0 {
		return provisional, nil
	}

	rec := req.Record
	since := rec.PublishedAt.Add(-req.Dedup.Window)

	cand, err := findByFingerprint(ctx, tx, rec.Fingerprint, since, rec.ID)
	if err != nil {
		return "", err
	}
	if cand != nil && cand.ClusterID != "" {
		return cand.ClusterID, nil
	}

	candidates, err := queryCandidates(ctx, tx, "", since, rec.PublishedAt.Add(req.Dedup.Window))
	if err != nil {
		return "", err
	}
	if match, ok := dedup.BestCluster(rec, candidates, req.Dedup.Threshold); ok {
		return match.ClusterID, nil
	}
	return provisional, nil
}

// EnrichedRecord loads one enrichment, nil when absent. Serving-side
// reads go through richer queries; this supports tests and audits.
func (s *SQLiteStore) EnrichedRecord(ctx context.Context, recordID string) (*domain.EnrichedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT record_id, cluster_id, entities, tags, why_it_matters, score, rule_table_version FROM enriched_records WHERE record_id = ?`,
		recordID)

	var (
		enriched            domain.EnrichedRecord
		entities, tags, why string
	)
	err := row.Scan(&enriched.RecordID, &enriched.ClusterID, &entities, &tags, &why, &enriched.Score, &enriched.RuleTableVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query enriched: %w", err)
	}
	if err := json.Unmarshal([]byte(entities), &enriched.Entities); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &enriched.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(why), &enriched.WhyItMatters); err != nil {
		return nil, fmt.Errorf("decode why_it_matters: %w", err)
	}
	return &enriched, nil
}

// SaveUnmatchedMentions records curation proposals, ignoring duplicates.
func (s *SQLiteStore) SaveUnmatchedMentions(ctx context.Context, mentions []domain.UnmatchedMention) error {
	for _, m := range mentions {
		query, args, err := sq.Insert("unmatched_mentions").
			Columns("mention", "record_id", "source_id", "observed_at").
			Values(m.Mention, m.RecordID, m.SourceID, m.ObservedAt.UTC().Format(timeLayout)).
			Suffix("ON CONFLICT (mention, record_id) DO NOTHING").
			ToSql()
		if err != nil {
			return fmt.Errorf("build mention insert: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert mention: %w", err)
		}
	}
	return nil
}

// LoadCursor returns the persisted cursor for a feed, empty if none.
func (s *SQLiteStore) LoadCursor(ctx context.Context, feedID string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx, `SELECT cursor FROM cursors WHERE feed_id = ?`, feedID).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query cursor: %w", err)
	}
	return cursor, nil
}

// SaveCursor upserts the per-feed cursor.
func (s *SQLiteStore) SaveCursor(ctx context.Context, feedID, cursor string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cursors (feed_id, cursor, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (feed_id) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		feedID, cursor, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func recordSelect() sq.SelectBuilder {
	return sq.Select("id", "title", "body", "published_at", "source_uri", "source_id",
		"kind", "mentions", "fingerprint", "prev_version_id", "cluster_id").
		From("records")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (*ports.Candidate, error) {
	var (
		cand        ports.Candidate
		publishedAt string
		mentions    string
		kind        string
	)
	err := row.Scan(&cand.Record.ID, &cand.Record.Title, &cand.Record.Body, &publishedAt,
		&cand.Record.SourceURI, &cand.Record.SourceID, &kind, &mentions,
		&cand.Record.Fingerprint, &cand.Record.PrevVersionID, &cand.ClusterID)
	if err != nil {
		return nil, err
	}
	cand.Record.Kind = domain.SourceKind(kind)
	cand.Record.PublishedAt, err = time.Parse(timeLayout, publishedAt)
	if err != nil {
		return nil, fmt.Errorf("record published_at: %w", err)
	}
	if err := json.Unmarshal([]byte(mentions), &cand.Record.Mentions); err != nil {
		return nil, fmt.Errorf("decode mentions: %w", err)
	}
	return &cand, nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
