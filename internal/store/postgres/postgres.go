// Package postgres implements the job store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/berlinonline/fisbroker-harvester/internal/store"
)

//go:embed schema.sql
var schema string

// Store persists runs and entities in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a pool and ensures the schema exists.
func Connect(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return New(pool, opts...), nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) CreateRun(ctx context.Context, run *store.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO harvest_run (id, source_id, run_type, status, gather_started, finished)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.SourceID, run.Type, run.Status,
		nullTime(run.GatherStarted), nullTime(run.Finished))
	return err
}

func (s *Store) UpdateRun(ctx context.Context, run *store.Run) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE harvest_run SET status = $2, gather_started = $3, finished = $4 WHERE id = $1`,
		run.ID, run.Status, nullTime(run.GatherStarted), nullTime(run.Finished))
	return err
}

func (s *Store) GetRun(ctx context.Context, id string) (*store.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source_id, run_type, status, gather_started, finished
		 FROM harvest_run WHERE id = $1`, id)
	run, err := scanRun(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.Errors, err = s.runErrors(ctx, run.ID)
	return run, err
}

func (s *Store) LastErrorFreeRun(ctx context.Context, sourceID string) (*store.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT r.id, r.source_id, r.run_type, r.status, r.gather_started, r.finished
		 FROM harvest_run r
		 WHERE r.source_id = $1
		   AND r.run_type = $2
		   AND r.status = $3
		   AND NOT EXISTS (SELECT 1 FROM harvest_run_error e WHERE e.run_id = r.id)
		   AND NOT EXISTS (
		       SELECT 1 FROM harvest_entity ent
		       JOIN harvest_entity_error ee ON ee.entity_id = ent.id
		       WHERE ent.run_id = r.id)
		 ORDER BY r.gather_started DESC
		 LIMIT 1`,
		sourceID, store.RunTypeHarvest, store.RunStatusFinished)
	run, err := scanRun(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *Store) AddRunError(ctx context.Context, runID string, message string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO harvest_run_error (run_id, message) VALUES ($1, $2)`,
		runID, message)
	return err
}

func (s *Store) runErrors(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT message FROM harvest_run_error WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStrings(rows)
}

func (s *Store) CreateEntity(ctx context.Context, entity *store.Entity) error {
	if entity.ID == "" {
		entity.ID = uuid.NewString()
	}
	if entity.Created.IsZero() {
		entity.Created = time.Now().UTC()
	}
	extras, err := json.Marshal(extrasOrEmpty(entity.Extras))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO harvest_entity
		   (id, run_id, source_id, guid, dataset_id, status, content, current, metadata_modified, extras, created)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entity.ID, nullString(entity.RunID), entity.SourceID, entity.GUID,
		nullString(entity.DatasetID), entity.Status, nullString(entity.Content),
		entity.Current, nullTime(entity.MetadataModified), extras, entity.Created)
	return err
}

func (s *Store) UpdateEntity(ctx context.Context, entity *store.Entity) error {
	extras, err := json.Marshal(extrasOrEmpty(entity.Extras))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE harvest_entity SET
		   run_id = $2, guid = $3, dataset_id = $4, status = $5, content = $6,
		   current = $7, metadata_modified = $8, extras = $9
		 WHERE id = $1`,
		entity.ID, nullString(entity.RunID), entity.GUID, nullString(entity.DatasetID),
		entity.Status, nullString(entity.Content), entity.Current,
		nullTime(entity.MetadataModified), extras)
	return err
}

func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM harvest_entity WHERE id = $1`, id)
	return err
}

func (s *Store) GetEntity(ctx context.Context, id string) (*store.Entity, error) {
	row := s.pool.QueryRow(ctx, entitySelect+` WHERE e.id = $1`, id)
	entity, err := scanEntity(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entity.Errors, err = s.entityErrors(ctx, entity.ID)
	return entity, err
}

func (s *Store) CurrentEntities(ctx context.Context, sourceID string) ([]*store.Entity, error) {
	rows, err := s.pool.Query(ctx,
		entitySelect+` WHERE e.source_id = $1 AND e.current ORDER BY e.guid`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*store.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

func (s *Store) CurrentEntityForGUID(ctx context.Context, sourceID string, guid string) (*store.Entity, error) {
	row := s.pool.QueryRow(ctx,
		entitySelect+` WHERE e.source_id = $1 AND e.guid = $2 AND e.current LIMIT 1`,
		sourceID, guid)
	entity, err := scanEntity(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return entity, err
}

func (s *Store) RetireEntities(ctx context.Context, sourceID string, guid string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE harvest_entity SET current = FALSE WHERE source_id = $1 AND guid = $2`,
		sourceID, guid)
	return err
}

func (s *Store) AddEntityError(ctx context.Context, entityID string, message string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO harvest_entity_error (entity_id, message) VALUES ($1, $2)`,
		entityID, message)
	return err
}

func (s *Store) EntityForDataset(ctx context.Context, datasetID string) (*store.Entity, error) {
	row := s.pool.QueryRow(ctx,
		entitySelect+` WHERE e.dataset_id = $1 ORDER BY e.created DESC LIMIT 1`, datasetID)
	entity, err := scanEntity(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return entity, err
}

func (s *Store) entityErrors(ctx context.Context, entityID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT message FROM harvest_entity_error WHERE entity_id = $1 ORDER BY id`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStrings(rows)
}

const entitySelect = `SELECT e.id, e.run_id, e.source_id, e.guid, e.dataset_id, e.status,
	e.content, e.current, e.metadata_modified, e.extras, e.created
	FROM harvest_entity e`

func scanRun(row pgx.Row) (*store.Run, error) {
	var run store.Run
	var gatherStarted, finished sql.NullTime
	if err := row.Scan(&run.ID, &run.SourceID, &run.Type, &run.Status,
		&gatherStarted, &finished); err != nil {
		return nil, err
	}
	run.GatherStarted = gatherStarted.Time
	run.Finished = finished.Time
	return &run, nil
}

func scanEntity(row pgx.Row) (*store.Entity, error) {
	var entity store.Entity
	var runID, datasetID, content sql.NullString
	var modified sql.NullTime
	var extras []byte
	if err := row.Scan(&entity.ID, &runID, &entity.SourceID, &entity.GUID,
		&datasetID, &entity.Status, &content, &entity.Current,
		&modified, &extras, &entity.Created); err != nil {
		return nil, err
	}
	entity.RunID = runID.String
	entity.DatasetID = datasetID.String
	entity.Content = content.String
	entity.MetadataModified = modified.Time
	if len(extras) > 0 {
		if err := json.Unmarshal(extras, &entity.Extras); err != nil {
			return nil, err
		}
	}
	return &entity, nil
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	var messages []string
	for rows.Next() {
		var message string
		if err := rows.Scan(&message); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

func extrasOrEmpty(extras map[string]string) map[string]string {
	if extras == nil {
		return map[string]string{}
	}
	return extras
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
