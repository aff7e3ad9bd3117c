package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/harvest-med/lead-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; WAL lets readers proceed.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	lead_uid      TEXT PRIMARY KEY,
	facility_name TEXT NOT NULL,
	category      TEXT NOT NULL,
	zip5          TEXT NOT NULL DEFAULT '',
	lead_score    INTEGER,
	priority_tier TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'New',
	new_this_week BOOLEAN NOT NULL DEFAULT 0,
	enriched_at   DATETIME,
	first_seen    DATETIME NOT NULL,
	last_updated  DATETIME NOT NULL,
	data          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_tier ON leads(priority_tier);
CREATE INDEX IF NOT EXISTS idx_leads_new ON leads(new_this_week);
CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(lead_score DESC);

CREATE TABLE IF NOT EXISTS lead_sources (
	lead_uid         TEXT NOT NULL REFERENCES leads(lead_uid),
	source           TEXT NOT NULL,
	source_id        TEXT NOT NULL,
	raw_data         TEXT NOT NULL,
	match_confidence REAL NOT NULL,
	match_method     TEXT NOT NULL,
	ingested_at      DATETIME NOT NULL,
	UNIQUE (lead_uid, source)
);

CREATE INDEX IF NOT EXISTS idx_lead_sources_source_id ON lead_sources(source, source_id);

CREATE TABLE IF NOT EXISTS lead_score_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	lead_uid      TEXT NOT NULL REFERENCES leads(lead_uid),
	run_id        TEXT NOT NULL DEFAULT '',
	score         INTEGER NOT NULL,
	priority_tier TEXT NOT NULL,
	scored_at     DATETIME NOT NULL,
	config_hash   TEXT NOT NULL,
	breakdown     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_score_history_lead ON lead_score_history(lead_uid, scored_at DESC);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	stats       TEXT,
	error       TEXT
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs(started_at DESC);
`

// Migrate creates the schema. It is safe to run repeatedly.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadLeads(ctx context.Context) ([]*model.CanonicalLead, error) {
	return s.queryLeads(ctx, `SELECT data FROM leads ORDER BY lead_uid`)
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]*model.CanonicalLead, error) {
	query := `SELECT data FROM leads WHERE 1=1`
	var args []any
	if filter.Tier != "" {
		query += ` AND priority_tier = ?`
		args = append(args, string(filter.Tier))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.NewOnly {
		query += ` AND new_this_week = 1`
	}
	query += ` ORDER BY lead_score IS NULL, lead_score DESC, lead_uid LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}
	return s.queryLeads(ctx, query, args...)
}

func (s *SQLiteStore) queryLeads(ctx context.Context, query string, args ...any) ([]*model.CanonicalLead, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query leads")
	}
	defer rows.Close() //nolint:errcheck

	var leads []*model.CanonicalLead
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		l, err := decodeLead(data)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

func (s *SQLiteStore) GetLead(ctx context.Context, leadUID string) (*model.CanonicalLead, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM leads WHERE lead_uid = ?`, leadUID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", leadUID)
	}
	return decodeLead(data)
}

func (s *SQLiteStore) SaveLeads(ctx context.Context, leads []*model.CanonicalLead) error {
	if len(leads) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(leads))
	for _, l := range leads {
		row, err := leadRow(l)
		if err != nil {
			return err
		}
		row[len(row)-1] = string(row[len(row)-1].([]byte))
		rows = append(rows, row)
	}
	return s.upsert(ctx, "leads", leadColumns, []string{"lead_uid"}, rows)
}

func (s *SQLiteStore) LoadAttributions(ctx context.Context) ([]model.SourceAttribution, error) {
	return s.queryAttributions(ctx, `SELECT `+strings.Join(attributionColumns, ", ")+` FROM lead_sources ORDER BY lead_uid, source`)
}

func (s *SQLiteStore) ListAttributions(ctx context.Context, leadUID string) ([]model.SourceAttribution, error) {
	return s.queryAttributions(ctx,
		`SELECT `+strings.Join(attributionColumns, ", ")+` FROM lead_sources WHERE lead_uid = ? ORDER BY source`,
		leadUID,
	)
}

func (s *SQLiteStore) queryAttributions(ctx context.Context, query string, args ...any) ([]model.SourceAttribution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query attributions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SourceAttribution
	for rows.Next() {
		a, err := scanAttribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate attributions")
}

func (s *SQLiteStore) SaveAttributions(ctx context.Context, attrs []model.SourceAttribution) error {
	if len(attrs) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(attrs))
	for _, a := range attrs {
		row := attributionRow(a)
		row[3] = string(row[3].([]byte))
		rows = append(rows, row)
	}
	return s.upsert(ctx, "lead_sources", attributionColumns, []string{"lead_uid", "source"}, rows)
}

func (s *SQLiteStore) AppendSnapshots(ctx context.Context, snaps []model.ScoreSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin snapshots")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, insertSQL("lead_score_history", snapshotColumns))
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare snapshot insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, snap := range snaps {
		row, err := snapshotRow(snap)
		if err != nil {
			return err
		}
		row[len(row)-1] = string(row[len(row)-1].([]byte))
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert snapshot for %s", snap.LeadUID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit snapshots")
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, leadUID string, limit int) ([]model.ScoreSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strings.Join(snapshotColumns, ", ")+` FROM lead_score_history
		 WHERE lead_uid = ? ORDER BY scored_at DESC, id DESC LIMIT ?`,
		leadUID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list snapshots for %s", leadUID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ScoreSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate snapshots")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.PipelineRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, status, started_at) VALUES (?, ?, ?)`,
		run.ID, string(run.Status), run.StartedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.PipelineRun) error {
	stats, err := marshalStats(run)
	if err != nil {
		return err
	}
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, finished_at = ?, stats = ?, error = ? WHERE id = ?`,
		string(run.Status), finished, string(stats), nullString(run.Error), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT id, status, started_at, finished_at, stats, error FROM pipeline_runs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// upsert writes rows in one transaction with INSERT ... ON CONFLICT.
func (s *SQLiteStore) upsert(ctx context.Context, table string, columns, keys []string, rows [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin %s upsert", table)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, upsertSQL(table, columns, keys))
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare %s upsert", table)
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: upsert %s", table)
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit %s upsert", table)
}

func insertSQL(table string, columns []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), marks)
}

func upsertSQL(table string, columns, keys []string) string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	var sets []string
	for _, c := range columns {
		if !isKey[c] {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		insertSQL(table, columns), strings.Join(keys, ", "), strings.Join(sets, ", "))
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
