/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Populates the store with trainers, clients, sessions and evaluations
	that demonstrate block billing, deductions and sealing. Dates are fixed
	in 2025 so amounts are reproducible.

AVAILABLE SCENARIOS:
	march-single-trainer: One client, sessions 1-4 in March, session 5 in April,
	                      one March evaluation. March owes 95.80.
	multi-trainer:        Three trainers, explicit and evaluation-based
	                      attribution, an incomplete session, a client with
	                      two blocks in one month, and a zero-total trainer.

HOW SCENARIOS WORK:
 1. Reset the store (clear all data; refused once any settlement is sealed)
 2. Save trainers, then clients, then sessions and evaluations

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "march-single-trainer"}

NOTE:
	Scenarios reset the store. The routes are not mounted in production.

SEE ALSO:
  - handlers.go: Handler and Seeder
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/holadanimestre-arch/crm-escuela-canina-sub000/billing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, s Seeder) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "march-single-trainer",
			Name:        "March, single trainer",
			Description: "One completed block in March minus one evaluation: 95.80 owed",
		},
		load: loadMarchScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "multi-trainer",
			Name:        "Multiple trainers",
			Description: "Explicit and evaluation-based attribution, two blocks in a month, a zero-total trainer",
		},
		load: loadMultiTrainerScenario,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	s, ok := findScenario(current)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		h.writeDomainError(w, r, &billing.ValidationError{Field: "scenario_id", Message: fmt.Sprintf("unknown scenario %q", req.ScenarioID)})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("reset store: %w", err))
		return
	}
	h.currentScenario = ""
	if err := s.load(ctx, h.Store); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("load scenario %s: %w", s.ID, err))
		return
	}
	h.currentScenario = s.ID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("reset store: %w", err))
		return
	}
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func at(month time.Month, day int) time.Time {
	return time.Date(2025, month, day, 10, 0, 0, 0, time.Local)
}

// saveSessions stores completed sessions numbered from 1, one per date.
func saveSessions(ctx context.Context, s Seeder, client billing.ClientID, dates ...time.Time) error {
	for i, d := range dates {
		n := i + 1
		err := s.SaveSession(ctx, billing.Session{
			ID:        billing.SessionID(fmt.Sprintf("%s-s%d", client, n)),
			ClientID:  client,
			Number:    n,
			Date:      d,
			Completed: true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func loadMarchScenario(ctx context.Context, s Seeder) error {
	if err := s.SaveTrainer(ctx, billing.Trainer{ID: "trainer-ana", Name: "Ana García"}); err != nil {
		return err
	}
	if err := s.SaveClient(ctx, billing.Client{ID: "client-luna", Name: "Luna", TrainerID: "trainer-ana"}); err != nil {
		return err
	}
	if err := s.SaveEvaluation(ctx, billing.Evaluation{
		ID:        "eval-luna",
		ClientID:  "client-luna",
		TrainerID: "trainer-ana",
		Result:    "suitable",
		CreatedAt: at(time.March, 1),
	}); err != nil {
		return err
	}
	return saveSessions(ctx, s, "client-luna",
		at(time.March, 3), at(time.March, 10), at(time.March, 17), at(time.March, 24), at(time.April, 2))
}

func loadMultiTrainerScenario(ctx context.Context, s Seeder) error {
	trainers := []billing.Trainer{
		{ID: "trainer-ana", Name: "Ana García"},
		{ID: "trainer-bruno", Name: "Bruno Díaz"},
		{ID: "trainer-carla", Name: "Carla Ruiz"},
	}
	for _, t := range trainers {
		if err := s.SaveTrainer(ctx, t); err != nil {
			return err
		}
	}

	clients := []billing.Client{
		{ID: "client-luna", Name: "Luna", TrainerID: "trainer-ana"},
		{ID: "client-max", Name: "Max", TrainerID: "trainer-ana"},
		// No explicit trainer: attributed through the latest evaluation.
		{ID: "client-rocky", Name: "Rocky"},
		{ID: "client-nala", Name: "Nala", TrainerID: "trainer-carla"},
	}
	for _, c := range clients {
		if err := s.SaveClient(ctx, c); err != nil {
			return err
		}
	}

	evals := []billing.Evaluation{
		{ID: "eval-luna", ClientID: "client-luna", TrainerID: "trainer-ana", Result: "suitable", CreatedAt: at(time.February, 20)},
		{ID: "eval-max", ClientID: "client-max", TrainerID: "trainer-ana", Result: "suitable", CreatedAt: at(time.March, 2)},
		{ID: "eval-rocky", ClientID: "client-rocky", TrainerID: "trainer-bruno", Result: "suitable", CreatedAt: at(time.March, 4)},
		{ID: "eval-nala", ClientID: "client-nala", TrainerID: "trainer-carla", Result: "not suitable", CreatedAt: at(time.March, 6)},
	}
	for _, e := range evals {
		if err := s.SaveEvaluation(ctx, e); err != nil {
			return err
		}
	}

	// Luna: eight sessions, two blocks closing in March.
	if err := saveSessions(ctx, s, "client-luna",
		at(time.March, 2), at(time.March, 5), at(time.March, 8), at(time.March, 11),
		at(time.March, 14), at(time.March, 17), at(time.March, 20), at(time.March, 23)); err != nil {
		return err
	}
	// Max: the third session was cancelled, so the block closes on session 5 in April.
	if err := saveSessions(ctx, s, "client-max",
		at(time.March, 9), at(time.March, 16), at(time.March, 23), at(time.March, 30), at(time.April, 6)); err != nil {
		return err
	}
	if err := s.SaveSession(ctx, billing.Session{
		ID: "client-max-s3", ClientID: "client-max", Number: 3, Date: at(time.March, 23), Completed: false,
	}); err != nil {
		return err
	}
	// Rocky: one March block billed to Bruno through the evaluation.
	// Nala has only the evaluation, so Carla's March total clamps to zero.
	return saveSessions(ctx, s, "client-rocky",
		at(time.March, 7), at(time.March, 14), at(time.March, 21), at(time.March, 28))
}
