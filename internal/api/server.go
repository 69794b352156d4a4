// Package api exposes the prospect pipeline over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/batch"
	"github.com/sells-group/prospector/internal/conversion"
	"github.com/sells-group/prospector/internal/enrich"
	"github.com/sells-group/prospector/internal/scoring"
)

// TeamHeader carries the caller's team id on every /v1 request.
const TeamHeader = "X-Team-ID"

// Enricher enriches prospects.
type Enricher interface {
	EnrichAndSave(ctx context.Context, prospectID, teamID string, opts enrich.Options) (*enrich.Outcome, error)
	EnrichBatch(ctx context.Context, prospectIDs []string, teamID string, opts enrich.Options) *enrich.BatchResult
}

// Scorer scores single prospects.
type Scorer interface {
	ScoreProspect(ctx context.Context, prospectID, teamID string) (*scoring.Result, error)
}

// BatchScorer scores a campaign's enriched prospects.
type BatchScorer interface {
	ScoreBatch(ctx context.Context, campaignID, teamID string, maxCount int) (*batch.Result, error)
}

// Converter promotes prospects into leads.
type Converter interface {
	ConvertProspectToLead(ctx context.Context, prospectID, teamID string) (*conversion.Result, error)
	BatchConvertProspects(ctx context.Context, prospectIDs []string, teamID string) *conversion.BatchResult
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the routes. A nil service answers 503.
type Deps struct {
	Store     Pinger
	Enricher  Enricher
	Scorer    Scorer
	Batch     BatchScorer
	Converter Converter
	// MaxBatch caps prospects per campaign scoring request and ids per batch request.
	MaxBatch int
	// CORSOrigins lists allowed origins; empty allows all.
	CORSOrigins []string
}

// Server holds the HTTP handlers.
type Server struct {
	deps     Deps
	validate *validator.Validate
}

// NewServer creates the API server.
func NewServer(deps Deps) *Server {
	if deps.MaxBatch <= 0 {
		deps.MaxBatch = batch.DefaultMaxCount
	}
	return &Server{deps: deps, validate: validator.New()}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", TeamHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireTeam)

		r.Post("/prospects/enrich", s.enrichBatch)
		r.Post("/prospects/convert", s.convertBatch)
		r.Post("/prospects/{id}/enrich", s.enrichProspect)
		r.Post("/prospects/{id}/score", s.scoreProspect)
		r.Post("/prospects/{id}/convert", s.convertProspect)
		r.Post("/campaigns/{id}/score", s.scoreCampaign)
	})

	return r
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("team_id", r.Header.Get(TeamHeader)),
		)
	})
}
