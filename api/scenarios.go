/*
scenarios.go - Demo scenario loaders for local runs and demonstrations

PURPOSE:
  Populates a store with a small martial-arts school: instructors, classes,
  students with selections, and payments made through the real reconciler.

AVAILABLE SCENARIOS:
  dragon-dojo:       Two instructors, three classes, one selection, one payment
  drifted-counters:  dragon-dojo with counters overwritten, for trying the sweep

HOW SCENARIOS WORK:
  1. Upsert users and classes through Catalog
  2. Reconcile scenario payments (replayed if already present)
  3. Sweep so counters match the payment log
  4. Scenario-specific tweaks

  Loading is repeatable: records are upserted and payments are idempotent.

USAGE:
  POST /scenarios/load  {"scenario_id": "dragon-dojo"}   (admin)
  server seed --scenario dragon-dojo

NOTE:
  Class ids are ObjectId hex strings so the same scenario loads into any store.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/enrollment-engine/enrollment"
)

// Seeder is a store that scenarios can be loaded into.
type Seeder interface {
	enrollment.TxStore
	enrollment.Catalog
}

var ErrUnknownScenario = errors.New("unknown scenario")

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "dragon-dojo",
		Name:        "Dragon Dojo",
		Description: "Two instructors, three classes, one pending selection and one paid enrollment",
	},
	{
		ID:          "drifted-counters",
		Name:        "Drifted Counters",
		Description: "Dragon Dojo with class and instructor counters overwritten; run a sweep to repair",
	},
}

const (
	DojoWingChun = enrollment.ClassID("650000000000000000000001")
	DojoTaiChi   = enrollment.ClassID("650000000000000000000002")
	DojoJKD      = enrollment.ClassID("650000000000000000000003")

	DojoAdmin = "sifu@dragon.dojo"
	DojoLee   = "lee@dragon.dojo"
	DojoMei   = "mei@dragon.dojo"
	DojoAda   = "ada@dragon.dojo"
	DojoBruce = "bruce@dragon.dojo"
)

// Scenarios lists the available scenario ids and descriptions.
func Scenarios() []ScenarioDTO {
	return append([]ScenarioDTO(nil), scenarios...)
}

// LoadScenario loads scenario id into s.
func LoadScenario(ctx context.Context, s Seeder, id string) error {
	switch id {
	case "dragon-dojo":
		return loadDragonDojo(ctx, s)
	case "drifted-counters":
		return loadDriftedCounters(ctx, s)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
// GET /scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Scenarios())
}

// LoadScenario loads a demo scenario into the running store.
// POST /scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if err := principal(r).HasRole(enrollment.RoleAdmin); err != nil {
		h.fail(w, "Forbidden", err)
		return
	}
	if h.Seeder == nil {
		writeError(w, http.StatusNotImplemented, "Store does not support scenarios", nil)
		return
	}

	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, "Invalid request body", err)
		return
	}
	if err := LoadScenario(r.Context(), h.Seeder, req.ScenarioID); err != nil {
		h.fail(w, "Failed to load scenario", err)
		return
	}
	log.Printf("[Scenarios] Loaded %s", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// =============================================================================
// LOADERS
// =============================================================================

func loadDragonDojo(ctx context.Context, s Seeder) error {
	users := []enrollment.Student{
		{Email: DojoAdmin, Name: "Sifu Wong", Role: enrollment.RoleAdmin},
		{Email: DojoLee, Name: "Lee Jun-fan", Role: enrollment.RoleInstructor},
		{Email: DojoMei, Name: "Mei Lin", Role: enrollment.RoleInstructor},
		{Email: DojoAda, Name: "Ada Park", Role: enrollment.RoleStudent,
			SelectedClasses: []enrollment.ClassID{DojoWingChun}},
		{Email: DojoBruce, Name: "Bruce Tan", Role: enrollment.RoleStudent},
	}
	for _, u := range users {
		if err := s.SaveStudent(ctx, u); err != nil {
			return fmt.Errorf("save user %s: %w", u.Email, err)
		}
	}

	classes := []enrollment.Class{
		{ID: DojoWingChun, Name: "Wing Chun Foundations", Price: decimal.RequireFromString("49.99"),
			TotalSeats: 20, InstructorEmail: DojoLee, InstructorName: "Lee Jun-fan", Status: "approved"},
		{ID: DojoTaiChi, Name: "Tai Chi Mornings", Price: decimal.RequireFromString("35"),
			TotalSeats: 15, InstructorEmail: DojoMei, InstructorName: "Mei Lin", Status: "approved"},
		{ID: DojoJKD, Name: "Jeet Kune Do", Price: decimal.RequireFromString("75.50"),
			TotalSeats: 10, InstructorEmail: DojoLee, InstructorName: "Lee Jun-fan", Status: "approved"},
	}
	for _, c := range classes {
		if err := s.SaveClass(ctx, c); err != nil {
			return fmt.Errorf("save class %s: %w", c.ID, err)
		}
	}

	reconciler := enrollment.NewReconciler(s)
	_, err := reconciler.Reconcile(ctx, enrollment.ReconcileRequest{
		TransactionID: "seed-bruce-jkd",
		StudentEmail:  DojoBruce,
		ClassID:       DojoJKD,
		Price:         decimal.RequireFromString("75.50"),
		Date:          time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC),
	})
	if err != nil {
		return fmt.Errorf("seed payment: %w", err)
	}

	// Upserts above reset counters and sets; bring them back in line with
	// the payment log.
	if _, err := reconciler.Sweep(ctx); err != nil {
		return fmt.Errorf("seed sweep: %w", err)
	}
	return nil
}

func loadDriftedCounters(ctx context.Context, s Seeder) error {
	if err := loadDragonDojo(ctx, s); err != nil {
		return err
	}
	return s.WithTx(ctx, func(tx enrollment.Store) error {
		if err := tx.SetClassEnrollment(ctx, DojoJKD, 9); err != nil {
			return err
		}
		if err := tx.SetClassEnrollment(ctx, DojoTaiChi, 2); err != nil {
			return err
		}
		return tx.SetInstructorStudents(ctx, DojoLee, 0)
	})
}
