package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/models"
)

// registerRoutes sets up all REST API routes on the router.
func (s *Server) registerRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		// System
		r.Get("/health", s.handleHealth)
		r.Head("/health", s.handleHealth)
		r.Get("/version", s.handleVersion)
		r.Head("/version", s.handleVersion)
		r.Post("/shutdown", s.handleShutdown)

		// Performance
		r.Post("/performance", s.handlePerformance)
		r.Post("/performance/live", s.handlePerformanceLive)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, common.CurrentBuild())
}

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if s.config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}

// handlePerformance handles POST /api/performance. The body is a
// self-contained bundle of provider batches, prices and FX rates.
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	var bundle models.InputBundle
	if !DecodeJSON(w, r, &bundle) {
		return
	}

	result, err := s.engine.RunBundle(r.Context(), bundle)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// handlePerformanceLive handles POST /api/performance/live, fetching from
// the configured providers instead of a supplied bundle.
func (s *Server) handlePerformanceLive(w http.ResponseWriter, r *http.Request) {
	var req models.PerformanceRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	result, err := s.engine.Run(r.Context(), req)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	var pe *models.PipelineError
	switch {
	case errors.As(err, &pe) && pe.Kind == models.KindConfiguration:
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: pe.Message, Code: string(pe.Kind), Entity: pe.Entity})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		WriteError(w, http.StatusServiceUnavailable, "Performance run did not complete: "+err.Error())
	default:
		s.logger.Error().Err(err).Msg("Performance run failed")
		WriteError(w, http.StatusInternalServerError, "Performance run failed")
	}
}
