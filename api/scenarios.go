/*
scenarios.go - Demo data loaders for testing and demonstrations

PURPOSE:
  Populates the store with a small organization so the API can be explored
  end to end: employees with line managers and an HR admin, the default
  leave catalog, holidays, and scenario-specific extras.

AVAILABLE SCENARIOS:
  small-team:      One HR admin, one manager, two employees, default catalog
  manager-away:    small-team plus a delegation covering the manager's absence
  year-end-freeze: small-team plus a December block period (sick leave exempt)

HOW SCENARIOS WORK:
  1. Seed the default catalog (idempotent)
  2. Upsert employees and holidays
  3. Accrue annual and sick leave to today
  4. Add the scenario's extras

  Loading is additive: nothing is deleted, and loading twice is harmless
  apart from the delegation scenario, which reports the overlap.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "manager-away"}

SEE ALSO:
  - factory/presets.go: DefaultCatalog
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "small-team",
		Name:        "Small Team",
		Description: "HR admin, line manager and two employees with the default catalog",
	},
	{
		ID:          "manager-away",
		Name:        "Manager Away",
		Description: "The line manager delegates approvals for the next two weeks",
	},
	{
		ID:          "year-end-freeze",
		Name:        "Year-End Freeze",
		Description: "No leave in the second half of December, except sick leave",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a scenario by ID.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.logger.Info("scenario loaded", zap.String("scenario_id", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	switch id {
	case "small-team":
		return h.loadSmallTeam(ctx)
	case "manager-away":
		if err := h.loadSmallTeam(ctx); err != nil {
			return err
		}
		return h.loadManagerAway(ctx)
	case "year-end-freeze":
		if err := h.loadSmallTeam(ctx); err != nil {
			return err
		}
		return h.loadYearEndFreeze(ctx)
	default:
		return &leave.ValidationError{Field: "scenario_id", Message: fmt.Sprintf("unknown scenario %q", id)}
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSmallTeam(ctx context.Context) error {
	if _, err := factory.DefaultCatalog().Apply(ctx, h.Store); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	today := h.Engine.Today()
	team := []leave.EmployeeProfile{
		{ID: "hr-1", Name: "Hana Rahimi", Email: "hana@example.com", HireDate: today.AddMonths(-60), ContractType: leave.ContractPermanent},
		{ID: "mgr-1", Name: "Marc Lenoir", Email: "marc@example.com", HireDate: today.AddMonths(-36), ContractType: leave.ContractPermanent, HRAdminID: "hr-1"},
		{ID: "mgr-2", Name: "Noor Haddad", Email: "noor@example.com", HireDate: today.AddMonths(-30), ContractType: leave.ContractPermanent, HRAdminID: "hr-1"},
		{ID: "emp-1", Name: "Alice Moreau", Email: "alice@example.com", HireDate: today.AddMonths(-24), Gender: leave.GenderFemale,
			ContractType: leave.ContractPermanent, ManagerID: "mgr-1", HRAdminID: "hr-1"},
		{ID: "emp-2", Name: "Bilal Kassem", Email: "bilal@example.com", HireDate: today.AddMonths(-2), Gender: leave.GenderMale,
			ContractType: leave.ContractFixedTerm, ManagerID: "mgr-1", HRAdminID: "hr-1"},
	}
	for _, p := range team {
		if err := h.Store.SaveEmployee(ctx, p); err != nil {
			return fmt.Errorf("save employee %s: %w", p.ID, err)
		}
	}

	holidays := []generic.Holiday{
		{ID: "new-year", Date: generic.NewTimePoint(today.Year(), time.January, 1), Name: "New Year's Day", Recurring: true},
		{ID: "labour-day", Date: generic.NewTimePoint(today.Year(), time.May, 1), Name: "Labour Day", Recurring: true},
		{ID: "christmas", Date: generic.NewTimePoint(today.Year(), time.December, 25), Name: "Christmas Day", Recurring: true},
	}
	for _, hol := range holidays {
		if err := h.Store.SaveHoliday(ctx, hol); err != nil {
			return fmt.Errorf("save holiday %s: %w", hol.ID, err)
		}
	}

	for _, p := range team {
		for _, lt := range []leave.LeaveTypeID{"annual", "sick"} {
			if _, err := h.Engine.Ledger.Accrue(ctx, p.ID, lt, today); err != nil {
				return fmt.Errorf("accrue %s/%s: %w", p.ID, lt, err)
			}
		}
	}
	return nil
}

func (h *Handler) loadManagerAway(ctx context.Context) error {
	today := h.Engine.Today()
	_, err := h.Engine.Delegations.SetDelegation(ctx, "mgr-1", "mgr-2", today, today.AddDays(14), "annual leave")
	return err
}

func (h *Handler) loadYearEndFreeze(ctx context.Context) error {
	year := h.Engine.Today().Year()
	return h.Store.SaveBlockPeriod(ctx, leave.BlockPeriod{
		ID:               fmt.Sprintf("year-end-%d", year),
		Name:             "Year-end close",
		Window:           generic.Period{Start: generic.NewTimePoint(year, time.December, 15), End: generic.EndOfYear(year)},
		ExemptLeaveTypes: []leave.LeaveTypeID{"sick"},
	})
}
