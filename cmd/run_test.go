package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvest-med/lead-pipeline/internal/model"
	"github.com/harvest-med/lead-pipeline/internal/store"
)

func TestRunCommand_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "leads.db")
	t.Setenv("LEADS_STORE_DATABASE_URL", dbPath)
	t.Setenv("LEADS_LOG_LEVEL", "error")

	npiFile := filepath.Join(dir, "npi.json")
	require.NoError(t, os.WriteFile(npiFile, []byte(`[
		{"source_id":"NPI-1","name":"Acme Dental","zip5":"35203","state":"AL"}
	]`), 0o600))
	adphFile := filepath.Join(dir, "adph.csv")
	require.NoError(t, os.WriteFile(adphFile, []byte(
		"License Number,Facility Name,Facility Type,Administrator,Zip\n"+
			"LIC-77,Acme Dental Clinic,Dental Clinic,J. Smith,35203\n"), 0o600))

	rootCmd.SetArgs([]string{"run", npiFile, "--source", "npi", "--ingested-at", "2026-03-02"})
	require.NoError(t, rootCmd.Execute())
	rootCmd.SetArgs([]string{"run", adphFile, "--source", "ADPH", "--ingested-at", "2026-03-02"})
	require.NoError(t, rootCmd.Execute())

	ctx := context.Background()
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	leads, err := st.LoadLeads(ctx)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "J. Smith", leads[0].Administrator)
	assert.NotNil(t, leads[0].LeadScore)

	runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	rootCmd.SetArgs([]string{"health", "--json"})
	require.NoError(t, rootCmd.Execute())
}
