/*
handlers.go - HTTP API handlers for trainer settlements

PURPOSE:
  Exposes the settlement ledger and the sealing operation to the admin
  frontend. Handles HTTP request/response and JSON serialization, and
  delegates to the billing package.

ENDPOINTS:
  Trainers:
    GET    /api/trainers                                      List trainers

  Settlements:
    GET    /api/settlements?month=YYYY-MM                     One snapshot per trainer
    GET    /api/trainers/{id}/settlements/{month}             Single snapshot
    GET    /api/trainers/{id}/settlements/{month}/breakdown   Snapshot plus line items
    POST   /api/trainers/{id}/settlements/{month}/seal        Seal (body: {"confirm": true})
    POST   /api/trainers/{id}/settlements/{month}/resume      Finish an interrupted seal

  Pricing:
    GET    /api/pricing                                       Configured price versions

  Scenarios (not mounted in production):
    GET    /api/scenarios                                     List demo scenarios
    POST   /api/scenarios/load                                Load a demo scenario
    POST   /api/scenarios/reset                               Clear all data

ERROR HANDLING:
  Every domain error goes through writeDomainError:
  - 400: Validation errors, malformed month or body
  - 404: Unknown trainer or settlement
  - 409: Already sealed (client should refresh), concurrent modification,
         reset refused because sealed settlements exist
  - 422: Nothing to seal
  - 500: Partial failure (body carries the resume path) and internal errors

SECURITY NOTE:
  No authentication. Access control belongs to the surrounding CRM.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/holadanimestre-arch/crm-escuela-canina-sub000/billing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Seeder writes source records. In production the CRM owns these tables;
// here it backs the demo scenarios.
type Seeder interface {
	SaveTrainer(ctx context.Context, t billing.Trainer) error
	SaveClient(ctx context.Context, c billing.Client) error
	SaveSession(ctx context.Context, s billing.Session) error
	SaveEvaluation(ctx context.Context, e billing.Evaluation) error
	Reset(ctx context.Context) error
}

// Backend is everything the handlers need from storage.
type Backend interface {
	billing.Store
	Seeder
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   Backend
	Ledger  *billing.Ledger
	Sealer  *billing.Sealer
	Pricing *billing.PricingSchedule
	Logger  *zap.Logger

	validate *validator.Validate
	now      func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires a ledger and a sealer over the store.
func NewHandler(store Backend, pricing *billing.PricingSchedule, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Store:    store,
		Ledger:   billing.NewLedger(store, pricing, logger),
		Sealer:   billing.NewSealer(store, pricing, logger),
		Pricing:  pricing,
		Logger:   logger.Named("api"),
		validate: v,
		now:      time.Now,
	}
}

// =============================================================================
// TRAINER HANDLERS
// =============================================================================

func (h *Handler) ListTrainers(w http.ResponseWriter, r *http.Request) {
	trainers, err := h.Store.ListTrainers(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]TrainerDTO, len(trainers))
	for i, t := range trainers {
		dtos[i] = TrainerDTO{ID: string(t.ID), Name: t.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// ListSettlements returns one snapshot per trainer. Without ?month it
// defaults to the current month.
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	month := billing.MonthOf(h.now())
	if raw := r.URL.Query().Get("month"); raw != "" {
		m, err := billing.ParseMonth(raw)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		month = m
	}

	snaps, err := h.Ledger.List(r.Context(), month)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]SettlementDTO, len(snaps))
	for i, s := range snaps {
		dtos[i] = toSettlementDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	trainerID, month, err := settlementKey(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	snap, err := h.Ledger.Get(r.Context(), trainerID, month)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(snap))
}

func (h *Handler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	trainerID, month, err := settlementKey(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	b, err := h.Ledger.Breakdown(r.Context(), trainerID, month)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dto := BreakdownDTO{
		Settlement: toSettlementDTO(b.Snapshot),
		Concepts:   make([]ConceptDTO, len(b.Concepts)),
	}
	for i, c := range b.Concepts {
		dto.Concepts[i] = toConceptDTO(c)
	}
	writeJSON(w, http.StatusOK, dto)
}

// SealSettlement fixes the month's amount for the trainer. Irreversible.
func (h *Handler) SealSettlement(w http.ResponseWriter, r *http.Request) {
	trainerID, month, err := settlementKey(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var req SealRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	sealed, err := h.Sealer.Seal(r.Context(), billing.SealRequest{
		TrainerID: trainerID,
		Month:     month,
		Confirmed: req.Confirm,
		Actor:     req.Actor,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSettlementDTO(&billing.SealedSettlement{Settlement: *sealed}))
}

// ResumeSettlement re-runs the stamping of an already sealed settlement.
func (h *Handler) ResumeSettlement(w http.ResponseWriter, r *http.Request) {
	trainerID, month, err := settlementKey(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	sealed, err := h.Sealer.Resume(r.Context(), trainerID, month)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(&billing.SealedSettlement{Settlement: *sealed}))
}

// =============================================================================
// PRICING HANDLERS
// =============================================================================

func (h *Handler) ListPricing(w http.ResponseWriter, r *http.Request) {
	versions := h.Pricing.Versions()
	dtos := make([]PricingDTO, len(versions))
	for i, p := range versions {
		dtos[i] = toPricingDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func settlementKey(r *http.Request) (billing.TrainerID, billing.Month, error) {
	trainerID := billing.TrainerID(chi.URLParam(r, "id"))
	month, err := billing.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		return "", billing.Month{}, err
	}
	return trainerID, month, nil
}

// decode reads a JSON body into dst and validates it. An empty body
// decodes as the zero value, so required fields still fail validation.
func (h *Handler) decode(r *http.Request, dst any) error {
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return &billing.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
		}
	}
	if err := h.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &billing.ValidationError{Field: fe.Field(), Message: fmt.Sprintf("failed %q check", fe.Tag())}
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(w, status, resp)
}

// writeDomainError maps billing errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *billing.ValidationError
		sealed     *billing.AlreadySealedError
		partial    *billing.PartialFailureError
	)

	switch {
	case errors.As(err, &partial):
		h.Logger.Error("seal needs resume",
			zap.String("settlement_id", string(partial.SettlementID)),
			zap.String("step", partial.Step),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "partial_failure",
			Message: "Settlement sealed but stamping did not finish; call resume to complete it",
			Details: err.Error(),
			Resume:  fmt.Sprintf("/api/trainers/%s/settlements/%s/resume", partial.TrainerID, partial.Month),
		})
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Message: validation.Message,
			Field:   validation.Field,
		})
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.As(err, &sealed):
		writeError(w, http.StatusConflict, ErrorResponse{
			Error:   "already_sealed",
			Message: "Settlement was already sealed; refresh to see the sealed amounts",
			Details: err.Error(),
		})
	case errors.Is(err, billing.ErrNothingToSeal):
		writeError(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "nothing_to_seal", Message: err.Error()})
	case errors.Is(err, billing.ErrConcurrentModification):
		writeError(w, http.StatusConflict, ErrorResponse{
			Error:   "concurrent_modification",
			Message: "Source records changed while sealing; refresh and try again",
			Details: err.Error(),
		})
	case errors.Is(err, billing.ErrSealedDataPresent):
		writeError(w, http.StatusConflict, ErrorResponse{
			Error:   "sealed_data_present",
			Message: "Sealed settlements exist; demo data can no longer be reset",
		})
	case errors.Is(err, billing.ErrNotSealed):
		writeError(w, http.StatusConflict, ErrorResponse{Error: "not_sealed", Message: err.Error()})
	default:
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Internal server error"})
	}
}
