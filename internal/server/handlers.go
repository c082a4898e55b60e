package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
	"github.com/friscapuff/alphaforge-brain/internal/retention"
	"github.com/friscapuff/alphaforge-brain/internal/run"
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var cfg run.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	res, err := s.cfg.Engine.Submit(&cfg)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, res)
}

func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	records := s.cfg.Engine.Registry().List()
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]any{
			"run_hash":        rec.RunHash,
			"created_at":      rec.CreatedAt,
			"status":          rec.Status,
			"strategy_name":   rec.StrategyName,
			"pinned":          rec.Pinned,
			"retention_state": rec.RetentionState,
			"summary":         rec.Summary,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": out, "api_version": APIVersion})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.cfg.Engine.Get(chi.URLParam(r, "runHash"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	index, err := s.cfg.Writer.Index(rec.RunHash)
	if err != nil {
		index = nil
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"record":         rec,
		"artifact_index": index,
		"api_version":    APIVersion,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sinceID := int64(-1)
	if v := r.URL.Query().Get("after_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid after_id")
			return
		}
		sinceID = n
	}
	events, terminal, err := s.cfg.Engine.Events(chi.URLParam(r, "runHash"), sinceID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []run.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events, "terminal": terminal})
}

func (s *Server) handleHashes(w http.ResponseWriter, r *http.Request) {
	rec, err := s.cfg.Engine.Get(chi.URLParam(r, "runHash"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec.Hashes())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runHash := chi.URLParam(r, "runHash")
	requested := s.cfg.Engine.Cancel(runHash)
	s.writeJSON(w, http.StatusOK, map[string]any{"run_hash": runHash, "cancel_requested": requested})
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	rec, err := s.cfg.Retention.Pin(chi.URLParam(r, "runHash"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_hash":        rec.RunHash,
		"pinned":          true,
		"retention_state": rec.RetentionState,
		"api_version":     APIVersion,
	})
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	rec, err := s.cfg.Retention.Unpin(chi.URLParam(r, "runHash"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_hash":        rec.RunHash,
		"pinned":          false,
		"retention_state": rec.RetentionState,
		"api_version":     APIVersion,
	})
}

func (s *Server) handleRehydrate(w http.ResponseWriter, r *http.Request) {
	runHash := chi.URLParam(r, "runHash")
	res, err := s.cfg.Retention.Rehydrate(runHash)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_hash":    runHash,
		"rehydrated":  true,
		"restored":    res.Restored,
		"noop":        res.Noop,
		"api_version": APIVersion,
	})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	runHash := chi.URLParam(r, "runHash")
	res, err := s.cfg.Retention.Restore(r.Context(), runHash)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_hash":    runHash,
		"restored":    res.Restored,
		"noop":        res.Noop,
		"api_version": APIVersion,
	})
}

func (s *Server) handleRetentionPlan(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Retention.Plan().Sets())
}

func (s *Server) handleRetentionApply(w http.ResponseWriter, r *http.Request) {
	plan := s.cfg.Retention.Apply(r.Context())
	out := plan.Sets()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"api_version": APIVersion,
		"kept":        out["keep_full"],
		"demoted":     out["demote"],
		"pinned":      out["pinned"],
		"top_k":       out["top_k"],
	})
}

func (s *Server) handleRetentionDiff(w http.ResponseWriter, r *http.Request) {
	var alt retention.Config
	if err := json.NewDecoder(r.Body).Decode(&alt); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"current": s.cfg.Retention.Plan().Sets(),
		"alt":     s.cfg.Retention.Diff(alt).Sets(),
	})
}

func (s *Server) handleGetRetentionSettings(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Retention.Config()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"keep_last":          cfg.KeepLast,
		"top_k_per_strategy": cfg.TopKPerStrategy,
		"max_full_bytes":     cfg.MaxFullBytes,
		"api_version":        APIVersion,
	})
}

func (s *Server) handleUpdateRetentionSettings(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Retention.Config()
	var body struct {
		KeepLast        *int   `json:"keep_last"`
		TopKPerStrategy *int   `json:"top_k_per_strategy"`
		MaxFullBytes    *int64 `json:"max_full_bytes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if body.KeepLast != nil {
		cfg.KeepLast = *body.KeepLast
	}
	if body.TopKPerStrategy != nil {
		cfg.TopKPerStrategy = *body.TopKPerStrategy
	}
	if body.MaxFullBytes != nil {
		cfg.MaxFullBytes = *body.MaxFullBytes
	}
	if err := s.cfg.Retention.UpdateConfig(cfg); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.handleGetRetentionSettings(w, r)
}

func (s *Server) handleRetentionMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Retention.Metrics())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("Response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]any{"detail": detail})
}

// writeDomainError maps the core error taxonomy onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var cfgErr *domain.ConfigError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "run not found")
	case errors.As(err, &cfgErr):
		s.writeError(w, http.StatusUnprocessableEntity, cfgErr.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
