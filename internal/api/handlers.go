package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/refine"
	"github.com/yourorg/vehicle-valuation/internal/security"
	"github.com/yourorg/vehicle-valuation/internal/service"
	"github.com/yourorg/vehicle-valuation/internal/store"
	"github.com/yourorg/vehicle-valuation/internal/types"
	"github.com/yourorg/vehicle-valuation/internal/validation"
)

// QuoteRequest asks for an unstored report
type QuoteRequest struct {
	Attributes model.VehicleAttributes `json:"attributes"`
	Tier       types.Tier              `json:"tier"`
}

// RefineResponse carries the outcome of one refinement attempt
type RefineResponse struct {
	Outcome refine.Outcome `json:"outcome"`
	Error   string         `json:"error,omitempty"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req service.PurchaseRequest
	if !decode(w, r, &req) {
		return
	}

	v, created, err := s.svc.Purchase(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, v)
}

func (s *Server) handleGetValuation(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := s.svc.Certificate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (s *Server) handleVerifyCertificate(w http.ResponseWriter, r *http.Request) {
	var cert security.Certificate
	if !decode(w, r, &cert) {
		return
	}

	report, err := s.svc.VerifyCertificate(cert)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":  true,
		"issuer": cert.Issuer,
		"report": report,
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Tier == "" {
		req.Tier = types.TierRegular
	}

	tr, err := s.svc.Quote(r.Context(), req.Attributes, req.Tier.Normalize())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleRefineOne(w http.ResponseWriter, r *http.Request) {
	out, err := s.refiner.RefineOne(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, statusFor(err), RefineResponse{Outcome: out, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, RefineResponse{Outcome: out})
}

// handleRefineAll and handleRefineStale detach the batch from the request deadline
// and client disconnects; a started batch always runs to completion.
func (s *Server) handleRefineAll(w http.ResponseWriter, r *http.Request) {
	summary, err := s.refiner.RefineAll(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRefineStale(w http.ResponseWriter, r *http.Request) {
	summary, err := s.refiner.ScheduledRun(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGuardStatus(w http.ResponseWriter, _ *http.Request) {
	if s.guard == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Signal guard not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.guard.Status())
}

func (s *Server) handleGuardReset(w http.ResponseWriter, _ *http.Request) {
	if s.guard == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Signal guard not enabled")
		return
	}
	s.guard.Reset()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Signal guard reset",
		"guard":   s.guard.Status(),
	})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	errorResponse(w, statusFor(err), err.Error())
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidPayment),
		errors.Is(err, validation.ErrInvalidAttributes):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotBusiness):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotCompleted),
		errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, refine.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, security.ErrInvalidCertificate),
		errors.Is(err, refine.ErrMissingSignal),
		errors.Is(err, refine.ErrMissingContext),
		errors.Is(err, refine.ErrSignalRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, security.ErrSigningDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
