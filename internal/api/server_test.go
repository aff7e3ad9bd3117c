package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvest-med/lead-pipeline/internal/model"
	"github.com/harvest-med/lead-pipeline/internal/store"
)

var t0 = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

func seededServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	leads := []*model.CanonicalLead{
		{LeadUID: "ld_hot", FacilityName: "Princeton Baptist Medical Center", Category: model.CategoryHospital,
			State: "AL", LeadScore: model.Int(91), PriorityTier: model.TierHot, Status: model.LeadStatusNew,
			FirstSeen: t0, LastUpdated: t0, NewThisWeek: true},
		{LeadUID: "ld_cold", FacilityName: "Acme Dental Clinic", Category: model.CategoryDental,
			State: "AL", LeadScore: model.Int(22), PriorityTier: model.TierCold, Status: model.LeadStatusContacted,
			FirstSeen: t0, LastUpdated: t0},
	}
	require.NoError(t, st.SaveLeads(ctx, leads))
	require.NoError(t, st.SaveAttributions(ctx, []model.SourceAttribution{
		{LeadUID: "ld_hot", Source: model.SourceADPH, SourceID: "H-100", RawData: json.RawMessage(`{"license_number":"H-100"}`),
			MatchConfidence: 1, MatchMethod: model.MatchExactID, IngestedAt: t0},
		{LeadUID: "ld_hot", Source: model.SourceCMS, SourceID: "010104", RawData: json.RawMessage(`{"provider_id":"010104"}`),
			MatchConfidence: 1, MatchMethod: model.MatchExactID, IngestedAt: t0},
	}))
	require.NoError(t, st.AppendSnapshots(ctx, []model.ScoreSnapshot{
		{LeadUID: "ld_hot", RunID: "run-1", Score: 91, PriorityTier: model.TierHot, ScoredAt: t0, ConfigHash: "abc"},
	}))

	srv := httptest.NewServer(New(st).Handler([]string{"*"}))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv := seededServer(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestListLeads(t *testing.T) {
	srv := seededServer(t)

	tests := []struct {
		name   string
		query  string
		status int
		uids   []string
	}{
		{"all", "", http.StatusOK, []string{"ld_hot", "ld_cold"}},
		{"by tier", "?tier=Cold", http.StatusOK, []string{"ld_cold"}},
		{"new only", "?new=true", http.StatusOK, []string{"ld_hot"}},
		{"bad tier", "?tier=Lukewarm", http.StatusBadRequest, nil},
		{"bad new", "?new=maybe", http.StatusBadRequest, nil},
		{"bad limit", "?limit=-1", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body LeadList
			status := getJSON(t, srv.URL+"/leads"+tt.query, &body)
			require.Equal(t, tt.status, status)
			if tt.status != http.StatusOK {
				return
			}
			var got []string
			for _, l := range body.Leads {
				got = append(got, l.LeadUID)
			}
			assert.Equal(t, tt.uids, got)
			assert.Equal(t, len(tt.uids), body.Count)
		})
	}
}

func TestGetLead(t *testing.T) {
	srv := seededServer(t)

	var lead model.CanonicalLead
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/leads/ld_hot", &lead))
	assert.Equal(t, "Princeton Baptist Medical Center", lead.FacilityName)
	assert.Equal(t, model.TierHot, lead.PriorityTier)

	var errBody map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/leads/ld_missing", &errBody))
	assert.Equal(t, "not found", errBody["error"])
}

func TestLeadScoresAndSources(t *testing.T) {
	srv := seededServer(t)

	var scores struct {
		LeadUID string                `json:"lead_uid"`
		Scores  []model.ScoreSnapshot `json:"scores"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/leads/ld_hot/scores", &scores))
	require.Len(t, scores.Scores, 1)
	assert.Equal(t, 91, scores.Scores[0].Score)

	var sources struct {
		Sources []model.SourceAttribution `json:"sources"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/leads/ld_hot/sources", &sources))
	assert.Len(t, sources.Sources, 2)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/leads/ld_cold/sources", &sources))
	assert.Empty(t, sources.Sources)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/leads/ld_missing/scores", nil))
}

func TestCORSPreflight(t *testing.T) {
	srv := seededServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/leads", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://crm.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
