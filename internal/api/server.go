// Package api serves stored leads, attributions, and score history as
// read-only JSON.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/harvest-med/lead-pipeline/internal/model"
	"github.com/harvest-med/lead-pipeline/internal/store"
)

// Server routes requests to a Store.
type Server struct {
	store store.Store
	log   *zap.Logger
}

// New creates a Server over st.
func New(st store.Store) *Server {
	return &Server{store: st, log: zap.L().With(zap.String("component", "api"))}
}

// Handler builds the router. origins lists the allowed CORS origins.
func (s *Server) Handler(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Route("/leads", func(r chi.Router) {
		r.Get("/", s.listLeads)
		r.Route("/{uid}", func(r chi.Router) {
			r.Get("/", s.getLead)
			r.Get("/scores", s.listScores)
			r.Get("/sources", s.listSources)
		})
	})
	r.Get("/runs", s.listRuns)
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LeadList is the response body of GET /leads.
type LeadList struct {
	Leads  []*model.CanonicalLead `json:"leads"`
	Count  int                    `json:"count"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

func (s *Server) listLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.LeadFilter{
		Tier:   model.Tier(q.Get("tier")),
		Status: model.LeadStatus(q.Get("status")),
	}
	switch filter.Tier {
	case "", model.TierHot, model.TierWarm, model.TierCool, model.TierCold:
	default:
		writeError(w, http.StatusBadRequest, "tier must be Hot, Warm, Cool, or Cold")
		return
	}

	var err error
	if v := q.Get("new"); v != "" {
		if filter.NewOnly, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "new must be a boolean")
			return
		}
	}
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	leads, err := s.store.ListLeads(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if leads == nil {
		leads = []*model.CanonicalLead{}
	}
	writeJSON(w, http.StatusOK, LeadList{Leads: leads, Count: len(leads), Limit: filter.Limit, Offset: filter.Offset})
}

func (s *Server) getLead(w http.ResponseWriter, r *http.Request) {
	lead, err := s.store.GetLead(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) listScores(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if _, err := s.store.GetLead(r.Context(), uid); err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	snaps, err := s.store.ListSnapshots(r.Context(), uid, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []model.ScoreSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lead_uid": uid, "scores": snaps})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if _, err := s.store.GetLead(r.Context(), uid); err != nil {
		s.fail(w, r, err)
		return
	}
	attrs, err := s.store.ListAttributions(r.Context(), uid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if attrs == nil {
		attrs = []model.SourceAttribution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lead_uid": uid, "sources": attrs})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{
		Status: model.RunStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.PipelineRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.log.Error("api: store error", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
