package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/apperr"
	"github.com/sells-group/prospector/internal/enrich"
)

type teamKey struct{}

func requireTeam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		team := strings.TrimSpace(r.Header.Get(TeamHeader))
		if team == "" {
			writeError(w, r, apperr.BadRequest("%s header is required", TeamHeader))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), teamKey{}, team)))
	})
}

func teamFrom(r *http.Request) string {
	team, _ := r.Context().Value(teamKey{}).(string)
	return team
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			zap.L().Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type enrichRequest struct {
	Provider    string   `json:"provider" validate:"omitempty,oneof=apollo hunter"`
	ProspectIDs []string `json:"prospect_ids" validate:"omitempty,dive,required"`
}

func (s *Server) enrichProspect(w http.ResponseWriter, r *http.Request) {
	if s.deps.Enricher == nil {
		unavailable(w, "enrichment")
		return
	}
	var req enrichRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	out, err := s.deps.Enricher.EnrichAndSave(r.Context(), chi.URLParam(r, "id"), teamFrom(r), enrich.Options{ForceProvider: req.Provider})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) enrichBatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Enricher == nil {
		unavailable(w, "enrichment")
		return
	}
	var req enrichRequest
	if !s.decodeRequired(w, r, &req) || !s.checkIDs(w, r, req.ProspectIDs) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Enricher.EnrichBatch(r.Context(), req.ProspectIDs, teamFrom(r), enrich.Options{ForceProvider: req.Provider}))
}

func (s *Server) scoreProspect(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scorer == nil {
		unavailable(w, "scoring")
		return
	}
	res, err := s.deps.Scorer.ScoreProspect(r.Context(), chi.URLParam(r, "id"), teamFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) scoreCampaign(w http.ResponseWriter, r *http.Request) {
	if s.deps.Batch == nil {
		unavailable(w, "scoring")
		return
	}
	var req struct {
		MaxCount int `json:"max_count" validate:"gte=0"`
	}
	if !s.decodeOptional(w, r, &req) {
		return
	}
	if req.MaxCount <= 0 || req.MaxCount > s.deps.MaxBatch {
		req.MaxCount = s.deps.MaxBatch
	}
	res, err := s.deps.Batch.ScoreBatch(r.Context(), chi.URLParam(r, "id"), teamFrom(r), req.MaxCount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) convertProspect(w http.ResponseWriter, r *http.Request) {
	if s.deps.Converter == nil {
		unavailable(w, "conversion")
		return
	}
	res, err := s.deps.Converter.ConvertProspectToLead(r.Context(), chi.URLParam(r, "id"), teamFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) convertBatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Converter == nil {
		unavailable(w, "conversion")
		return
	}
	var req struct {
		ProspectIDs []string `json:"prospect_ids" validate:"dive,required"`
	}
	if !s.decodeRequired(w, r, &req) || !s.checkIDs(w, r, req.ProspectIDs) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Converter.BatchConvertProspects(r.Context(), req.ProspectIDs, teamFrom(r)))
}

func (s *Server) checkIDs(w http.ResponseWriter, r *http.Request, ids []string) bool {
	switch {
	case len(ids) == 0:
		writeError(w, r, apperr.BadRequest("prospect_ids is required"))
		return false
	case len(ids) > s.deps.MaxBatch:
		writeError(w, r, apperr.BadRequest("at most %d prospect_ids per request", s.deps.MaxBatch))
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, apperr.BadRequest("invalid request body: %v", err))
		return false
	}
	return s.validateBody(w, r, v)
}

func (s *Server) decodeRequired(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, apperr.BadRequest("invalid request body: %v", err))
		return false
	}
	return s.validateBody(w, r, v)
}

func (s *Server) validateBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := s.validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace()+" failed "+fe.Tag())
		}
		writeError(w, r, apperr.BadRequest("invalid request: %s", strings.Join(fields, "; ")))
		return false
	}
	writeError(w, r, apperr.BadRequest("invalid request: %v", err))
	return false
}

type errorBody struct {
	Error   string         `json:"error"`
	Kind    string         `json:"kind"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError maps domain errors to their HTTP status. Anything else is a 500
// whose cause is logged, not returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		zap.L().Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("team_id", r.Header.Get(TeamHeader)),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Kind: apperr.KindInternal.String()})
		return
	}

	status := e.HTTPStatus()
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: e.Error(), Kind: e.Kind.String(), Details: e.Details})
}

func unavailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: what + " is not configured", Kind: "unavailable"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response failed", zap.Error(err))
	}
}
