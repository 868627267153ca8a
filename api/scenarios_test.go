/*
scenarios_test.go - Tests for demo scenario loading

Each scenario is loaded through the HTTP endpoint into a SQLite store and
checked against the amounts it is meant to demonstrate.
*/
package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holadanimestre-arch/crm-escuela-canina-sub000/billing/store"
)

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	for _, backend := range []struct {
		name string
		new  func(t *testing.T) Backend
	}{
		{"sqlite", func(t *testing.T) Backend { return newSQLBackend(t) }},
		{"memory", func(*testing.T) Backend { return store.NewTxMemory() }},
	} {
		for _, s := range scenarios {
			t.Run(backend.name+"/"+s.ID, func(t *testing.T) {
				ts := newTestServer(t, backend.new(t))

				ts.loadScenario(t, s.ID)

				trainers, err := ts.h.Store.ListTrainers(context.Background())
				require.NoError(t, err)
				assert.NotEmpty(t, trainers)
			})
		}
	}
}

func TestScenario_ListAndCurrent(t *testing.T) {
	ts := newTestServer(t, newSQLBackend(t))

	rec := ts.do(t, http.MethodGet, "/api/scenarios", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarios))
	assert.Equal(t, "march-single-trainer", list[0].ID)

	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	ts.loadScenario(t, "multi-trainer")

	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "multi-trainer", decodeBody[ScenarioDTO](t, rec).ID)
}

func TestScenario_LoadReplacesPreviousData(t *testing.T) {
	// GIVEN: The multi-trainer scenario, nothing sealed
	// WHEN: Loading the March scenario on top
	// THEN: Only the March scenario's trainer remains
	ts := newTestServer(t, newSQLBackend(t))
	ts.loadScenario(t, "multi-trainer")

	ts.loadScenario(t, "march-single-trainer")

	rec := ts.do(t, http.MethodGet, "/api/trainers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	trainers := decodeBody[[]TrainerDTO](t, rec)
	require.Len(t, trainers, 1)
	assert.Equal(t, "trainer-ana", trainers[0].ID)

	rec = ts.do(t, http.MethodGet, "/api/trainers/trainer-bruno/settlements/2025-03", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScenario_ResetRefusedOnceSealed(t *testing.T) {
	// GIVEN: A sealed March settlement
	// WHEN: Resetting or loading another scenario
	// THEN: Both are refused with 409 and the sealed settlement survives
	for _, backend := range []struct {
		name string
		new  func(t *testing.T) Backend
	}{
		{"sqlite", func(t *testing.T) Backend { return newSQLBackend(t) }},
		{"memory", func(*testing.T) Backend { return store.NewTxMemory() }},
	} {
		t.Run(backend.name, func(t *testing.T) {
			ts := newTestServer(t, backend.new(t))
			ts.loadScenario(t, "march-single-trainer")
			rec := ts.do(t, http.MethodPost, marchPath+"/seal", `{"confirm":true}`)
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			sealedID := decodeBody[SettlementDTO](t, rec).ID

			rec = ts.do(t, http.MethodPost, "/api/scenarios/reset", "")
			assert.Equal(t, http.StatusConflict, rec.Code)
			assert.Equal(t, "sealed_data_present", decodeBody[ErrorResponse](t, rec).Error)

			rec = ts.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id":"multi-trainer"}`)
			assert.Equal(t, http.StatusConflict, rec.Code)

			rec = ts.do(t, http.MethodGet, marchPath, "")
			require.Equal(t, http.StatusOK, rec.Code)
			got := decodeBody[SettlementDTO](t, rec)
			assert.Equal(t, sealedID, got.ID)
			assert.Equal(t, "sealed", got.Status)

			rec = ts.do(t, http.MethodGet, "/api/scenarios/current", "")
			assert.Equal(t, "march-single-trainer", decodeBody[ScenarioDTO](t, rec).ID)
		})
	}
}

func TestScenario_RoutesNotMountedWithoutDemoOption(t *testing.T) {
	h := NewHandler(store.NewTxMemory(), defaultPricing(t), nil)
	router := NewRouter(h, RouterOptions{DemoScenarios: false})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/scenarios"},
		{http.MethodPost, "/api/scenarios/load"},
		{http.MethodPost, "/api/scenarios/reset"},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pricing", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScenario_LoadErrors(t *testing.T) {
	ts := newTestServer(t, store.NewTxMemory())

	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "scenario_id", decodeBody[ErrorResponse](t, rec).Field)

	rec = ts.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id":"winter"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Message, "winter")
}

func TestScenario_Reset(t *testing.T) {
	ts := newTestServer(t, newSQLBackend(t))
	ts.loadScenario(t, "march-single-trainer")

	rec := ts.do(t, http.MethodPost, "/api/scenarios/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/trainers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]TrainerDTO](t, rec))

	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", "")
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}
