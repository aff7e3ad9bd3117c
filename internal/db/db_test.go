package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock
}

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "lead_score_history", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock := newMock(t)
	mock.ExpectCopyFrom(pgx.Identifier{"lead_score_history"}, []string{"a", "b"}).WillReturnResult(3)

	rows := [][]any{{1, "x"}, {2, "y"}, {3, "z"}}
	n, err := CopyFrom(context.Background(), mock, "lead_score_history", []string{"a", "b"}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock := newMock(t)
	mock.ExpectCopyFrom(pgx.Identifier{"crm", "leads"}, []string{"a"}).WillReturnResult(1)

	_, err := CopyFrom(context.Background(), mock, "crm.leads", []string{"a"}, [][]any{{1}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock := newMock(t)
	mock.ExpectCopyFrom(pgx.Identifier{"leads"}, []string{"a"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err := CopyFrom(context.Background(), mock, "leads", []string{"a"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO leads")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     UpsertConfig
		rows    [][]any
		wantErr string
	}{
		{"empty rows", UpsertConfig{Table: "leads"}, nil, ""},
		{"no columns", UpsertConfig{Table: "leads", ConflictKeys: []string{"id"}}, [][]any{{1}}, "no columns specified"},
		{"no conflict keys", UpsertConfig{Table: "leads", Columns: []string{"id"}}, [][]any{{1}}, "no conflict keys specified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := BulkUpsert(context.Background(), nil, tt.cfg, tt.rows)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Zero(t, n)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBulkUpsert_Success(t *testing.T) {
	mock := newMock(t)
	cfg := UpsertConfig{
		Table:        "lead_sources",
		Columns:      []string{"lead_uid", "source", "source_id"},
		ConflictKeys: []string{"lead_uid", "source"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_lead_sources" \(LIKE "lead_sources"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_lead_sources"}, cfg.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "lead_sources" .* ON CONFLICT \("lead_uid", "source"\) DO UPDATE SET "source_id" = EXCLUDED."source_id"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, cfg, [][]any{{"ld_1", "npi", "1"}, {"ld_1", "adph", "L"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyErrorRollsBack(t *testing.T) {
	mock := newMock(t)
	cfg := UpsertConfig{Table: "leads", Columns: []string{"lead_uid"}, ConflictKeys: []string{"lead_uid"}}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_leads"}, cfg.Columns).WillReturnError(fmt.Errorf("boom"))
	mock.ExpectRollback()

	_, err := BulkUpsert(context.Background(), mock, cfg, [][]any{{"ld_1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for leads")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL(t *testing.T) {
	got := UpsertSQL(UpsertConfig{
		Table:        "crm.leads",
		Columns:      []string{"lead_uid", "data"},
		ConflictKeys: []string{"lead_uid"},
	}, `"src"`)
	assert.Equal(t,
		`INSERT INTO "crm"."leads" ("lead_uid", "data") SELECT "lead_uid", "data" FROM "src" ON CONFLICT ("lead_uid") DO UPDATE SET "data" = EXCLUDED."data"`,
		got)

	nothing := UpsertSQL(UpsertConfig{
		Table:        "leads",
		Columns:      []string{"lead_uid"},
		ConflictKeys: []string{"lead_uid"},
	}, `"src"`)
	assert.Contains(t, nothing, "DO NOTHING")
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
