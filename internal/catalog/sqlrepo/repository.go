package sqlrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tablerag/tablerag/internal/catalog"
)

// Repository stores the entity catalogue. Placeholders use the $n form accepted
// by both DuckDB and pgx.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

// ReplaceEntities swaps the whole catalogue inside one transaction.
func (r *Repository) ReplaceEntities(ctx context.Context, entities []catalog.Entity) error {
	for _, entity := range entities {
		if !entity.Type.Valid() {
			return fmt.Errorf("entity %d has invalid type %q", entity.ID, entity.Type)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entities`); err != nil {
		return fmt.Errorf("clear entities: %w", err)
	}

	if len(entities) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO entities (id, entity_type, entity_name, entity_description)
VALUES ($1, $2, $3, $4)`)
		if err != nil {
			return fmt.Errorf("prepare entity insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, entity := range entities {
			if _, err := stmt.ExecContext(ctx, entity.ID, string(entity.Type), entity.Name, entity.Description); err != nil {
				return fmt.Errorf("insert entity %d: %w", entity.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit entities: %w", err)
	}
	return nil
}

func (r *Repository) GetEntityByID(ctx context.Context, id int64) (catalog.Entity, error) {
	query := `
SELECT id, entity_type, entity_name, entity_description
FROM entities
WHERE id = $1`

	var entity catalog.Entity
	var entityType string
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&entity.ID, &entityType, &entity.Name, &entity.Description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Entity{}, catalog.ErrNotFound
		}
		return catalog.Entity{}, fmt.Errorf("get entity: %w", err)
	}
	entity.Type = catalog.EntityType(entityType)
	return entity, nil
}

// GetEntitiesByIDs returns the rows that exist; missing ids are simply absent
// from the map.
func (r *Repository) GetEntitiesByIDs(ctx context.Context, ids []int64) (map[int64]catalog.Entity, error) {
	out := make(map[int64]catalog.Entity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	query := `
SELECT id, entity_type, entity_name, entity_description
FROM entities
WHERE id IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var entity catalog.Entity
		var entityType string
		if err := rows.Scan(&entity.ID, &entityType, &entity.Name, &entity.Description); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		entity.Type = catalog.EntityType(entityType)
		out[entity.ID] = entity
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity rows: %w", err)
	}
	return out, nil
}

func (r *Repository) CountEntities(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return count, nil
}

func (r *Repository) ListEntityIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM entities ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list entity ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity ids: %w", err)
	}
	return ids, nil
}

// ListEntities streams the catalogue in id order, used by the Parquet export.
func (r *Repository) ListEntities(ctx context.Context) ([]catalog.Entity, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, entity_type, entity_name, entity_description
FROM entities
ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entities := make([]catalog.Entity, 0)
	for rows.Next() {
		var entity catalog.Entity
		var entityType string
		if err := rows.Scan(&entity.ID, &entityType, &entity.Name, &entity.Description); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		entity.Type = catalog.EntityType(entityType)
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity rows: %w", err)
	}
	return entities, nil
}

func (r *Repository) RecordBuild(ctx context.Context, record catalog.BuildRecord) error {
	query := `
INSERT INTO kb_build (build_id, started_at, finished_at, entity_count, table_count, failed_tables, embedding_model, snapshot_path)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(ctx, query,
		record.BuildID,
		record.StartedAt.UTC(),
		record.FinishedAt.UTC(),
		record.EntityCount,
		record.TableCount,
		strings.Join(record.FailedTables, "\n"),
		record.EmbeddingModel,
		record.SnapshotPath,
	); err != nil {
		return fmt.Errorf("record build: %w", err)
	}
	return nil
}

func (r *Repository) LatestBuild(ctx context.Context) (catalog.BuildRecord, error) {
	query := `
SELECT build_id, started_at, finished_at, entity_count, table_count, failed_tables, embedding_model, snapshot_path
FROM kb_build
ORDER BY finished_at DESC
LIMIT 1`

	var record catalog.BuildRecord
	var failed string
	if err := r.db.QueryRowContext(ctx, query).Scan(
		&record.BuildID,
		&record.StartedAt,
		&record.FinishedAt,
		&record.EntityCount,
		&record.TableCount,
		&failed,
		&record.EmbeddingModel,
		&record.SnapshotPath,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.BuildRecord{}, catalog.ErrNotFound
		}
		return catalog.BuildRecord{}, fmt.Errorf("latest build: %w", err)
	}
	if failed != "" {
		record.FailedTables = strings.Split(failed, "\n")
	}
	return record, nil
}
