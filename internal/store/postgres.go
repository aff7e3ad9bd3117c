package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/harvest-med/lead-pipeline/internal/db"
	"github.com/harvest-med/lead-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	lead_uid      TEXT PRIMARY KEY,
	facility_name TEXT NOT NULL,
	category      TEXT NOT NULL,
	zip5          TEXT NOT NULL DEFAULT '',
	lead_score    INTEGER,
	priority_tier TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'New',
	new_this_week BOOLEAN NOT NULL DEFAULT false,
	enriched_at   TIMESTAMPTZ,
	first_seen    TIMESTAMPTZ NOT NULL,
	last_updated  TIMESTAMPTZ NOT NULL,
	data          JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_tier ON leads(priority_tier);
CREATE INDEX IF NOT EXISTS idx_leads_new ON leads(new_this_week) WHERE new_this_week;
CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(lead_score DESC NULLS LAST);

CREATE TABLE IF NOT EXISTS lead_sources (
	lead_uid         TEXT NOT NULL REFERENCES leads(lead_uid),
	source           TEXT NOT NULL,
	source_id        TEXT NOT NULL,
	raw_data         JSONB NOT NULL,
	match_confidence DOUBLE PRECISION NOT NULL,
	match_method     TEXT NOT NULL,
	ingested_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (lead_uid, source)
);

CREATE INDEX IF NOT EXISTS idx_lead_sources_source_id ON lead_sources(source, source_id);

CREATE TABLE IF NOT EXISTS lead_score_history (
	id            BIGSERIAL PRIMARY KEY,
	lead_uid      TEXT NOT NULL REFERENCES leads(lead_uid),
	run_id        TEXT NOT NULL DEFAULT '',
	score         INTEGER NOT NULL,
	priority_tier TEXT NOT NULL,
	scored_at     TIMESTAMPTZ NOT NULL,
	config_hash   TEXT NOT NULL,
	breakdown     JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_score_history_lead ON lead_score_history(lead_uid, scored_at DESC);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	stats       JSONB,
	error       TEXT
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs(started_at DESC);
`

// Migrate creates the schema. It is safe to run repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) LoadLeads(ctx context.Context) ([]*model.CanonicalLead, error) {
	return s.queryLeads(ctx, `SELECT data FROM leads ORDER BY lead_uid`)
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]*model.CanonicalLead, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.Tier != "" {
		where = append(where, "priority_tier = "+arg(string(filter.Tier)))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if filter.NewOnly {
		where = append(where, "new_this_week")
	}

	query := `SELECT data FROM leads`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY lead_score DESC NULLS LAST, lead_uid LIMIT " + arg(listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}
	return s.queryLeads(ctx, query, args...)
}

func (s *PostgresStore) queryLeads(ctx context.Context, query string, args ...any) ([]*model.CanonicalLead, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query leads")
	}
	defer rows.Close()

	var leads []*model.CanonicalLead
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		l, err := decodeLead(data)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: iterate leads")
}

func (s *PostgresStore) GetLead(ctx context.Context, leadUID string) (*model.CanonicalLead, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM leads WHERE lead_uid = $1`, leadUID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", leadUID)
	}
	return decodeLead(data)
}

func (s *PostgresStore) SaveLeads(ctx context.Context, leads []*model.CanonicalLead) error {
	rows := make([][]any, 0, len(leads))
	for _, l := range leads {
		row, err := leadRow(l)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "leads",
		Columns:      leadColumns,
		ConflictKeys: []string{"lead_uid"},
	}, rows)
	return eris.Wrap(err, "postgres: save leads")
}

func (s *PostgresStore) LoadAttributions(ctx context.Context) ([]model.SourceAttribution, error) {
	return s.queryAttributions(ctx, `SELECT `+strings.Join(attributionColumns, ", ")+` FROM lead_sources ORDER BY lead_uid, source`)
}

func (s *PostgresStore) ListAttributions(ctx context.Context, leadUID string) ([]model.SourceAttribution, error) {
	return s.queryAttributions(ctx,
		`SELECT `+strings.Join(attributionColumns, ", ")+` FROM lead_sources WHERE lead_uid = $1 ORDER BY source`,
		leadUID,
	)
}

func (s *PostgresStore) queryAttributions(ctx context.Context, query string, args ...any) ([]model.SourceAttribution, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query attributions")
	}
	defer rows.Close()

	var out []model.SourceAttribution
	for rows.Next() {
		a, err := scanAttribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate attributions")
}

func (s *PostgresStore) SaveAttributions(ctx context.Context, attrs []model.SourceAttribution) error {
	rows := make([][]any, 0, len(attrs))
	for _, a := range attrs {
		rows = append(rows, attributionRow(a))
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "lead_sources",
		Columns:      attributionColumns,
		ConflictKeys: []string{"lead_uid", "source"},
	}, rows)
	return eris.Wrap(err, "postgres: save attributions")
}

// AppendSnapshots bulk-inserts score history with COPY.
func (s *PostgresStore) AppendSnapshots(ctx context.Context, snaps []model.ScoreSnapshot) error {
	rows := make([][]any, 0, len(snaps))
	for _, snap := range snaps {
		row, err := snapshotRow(snap)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	_, err := db.CopyFrom(ctx, s.pool, "lead_score_history", snapshotColumns, rows)
	return eris.Wrap(err, "postgres: append snapshots")
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, leadUID string, limit int) ([]model.ScoreSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+strings.Join(snapshotColumns, ", ")+` FROM lead_score_history
		 WHERE lead_uid = $1 ORDER BY scored_at DESC, id DESC LIMIT $2`,
		leadUID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list snapshots for %s", leadUID)
	}
	defer rows.Close()

	var out []model.ScoreSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate snapshots")
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.PipelineRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, status, started_at) VALUES ($1, $2, $3)`,
		run.ID, string(run.Status), run.StartedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert run %s", run.ID)
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *model.PipelineRun) error {
	stats, err := marshalStats(run)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, finished_at = $2, stats = $3, error = $4 WHERE id = $5`,
		string(run.Status), run.FinishedAt, stats, nullString(run.Error), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT id, status, started_at, finished_at, stats, error FROM pipeline_runs`
	args := []any{listLimit(filter.Limit)}
	if filter.Status != "" {
		query += ` WHERE status = $2`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
