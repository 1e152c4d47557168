package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"MaterialsMonitor/internal/domain"
	"MaterialsMonitor/internal/ports"
)

const snapshotVersionKey = "snapshot_version"

// SQLiteEntityStore reads the canonical-entity reference data maintained
// by the curation collaborator. The pipeline only ever calls Snapshot;
// Seed exists for that collaborator and for tests.
type SQLiteEntityStore struct {
	db *sql.DB
}

var _ ports.EntityStore = (*SQLiteEntityStore)(nil)

// NewSQLiteEntityStore wraps a handle sharing the pipeline database.
func NewSQLiteEntityStore(db *sql.DB) *SQLiteEntityStore {
	return &SQLiteEntityStore{db: db}
}

// Snapshot returns every entity plus the snapshot version.
func (s *SQLiteEntityStore) Snapshot(ctx context.Context) ([]domain.CanonicalEntity, string, error) {
	version := "v0"
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM entity_meta WHERE key = ?`, snapshotVersionKey).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return nil, "", fmt.Errorf("query snapshot version: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, name, aliases FROM entities ORDER BY id`)
	if err != nil {
		return nil, "", fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var entities []domain.CanonicalEntity
	for rows.Next() {
		var (
			ent     domain.CanonicalEntity
			kind    string
			aliases string
		)
		if err := rows.Scan(&ent.ID, &kind, &ent.Name, &aliases); err != nil {
			return nil, "", fmt.Errorf("scan entity: %w", err)
		}
		ent.Kind = domain.EntityKind(kind)
		if err := json.Unmarshal([]byte(aliases), &ent.Aliases); err != nil {
			return nil, "", fmt.Errorf("decode aliases: %w", err)
		}
		entities = append(entities, ent)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("entity rows: %w", err)
	}
	return entities, version, nil
}

// Seed replaces the reference data and bumps the snapshot version.
// Curation-side operation; the pipeline never writes entities.
func (s *SQLiteEntityStore) Seed(ctx context.Context, entities []domain.CanonicalEntity, version string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entities`); err != nil {
		return fmt.Errorf("clear entities: %w", err)
	}
	for _, ent := range entities {
		aliases, err := json.Marshal(ent.Aliases)
		if err != nil {
			return fmt.Errorf("encode aliases: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entities (id, kind, name, aliases) VALUES (?, ?, ?, ?)`,
			ent.ID, string(ent.Kind), ent.Name, string(aliases),
		); err != nil {
			return fmt.Errorf("insert entity %s: %w", ent.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entity_meta (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		snapshotVersionKey, version,
	); err != nil {
		return fmt.Errorf("update snapshot version: %w", err)
	}
	return tx.Commit()
}
