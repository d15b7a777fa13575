/*
Package factory provides YAML to Go leave catalog conversion.

PURPOSE:
  Converts catalog files into leave.LeaveType and leave.LeavePolicy values
  and seeds them into a store. HR can define leave types in a file, and
  the factory creates the proper Go structs.

YAML SCHEMA:
  leave_types:
    - id: annual
      name: Annual Leave
      category: annual
      paid: true
      deductible: true
      allow_half_day: true
      policy:
        accrual_method: MONTHLY
        monthly_rate: 1.5
        yearly_rate: 18
        carry_forward_allowed: true
        max_carry_forward: 5
        rounding_rule: ROUND_NEAREST
        min_notice_days: 7
        max_consecutive_days: 15
        eligibility:
          min_tenure_months: 3
          contract_types: [permanent, fixed_term]

  JSON is a subset of YAML, so the same loader reads JSON catalogs.

KEY FEATURES:
  - Validates every leave type and policy before anything is written
  - Apply is idempotent: existing leave types are kept, and a policy is only
    versioned when it differs from the stored latest version

USAGE:
  catalog, err := factory.LoadCatalog(file)
  // or
  catalog := factory.DefaultCatalog()

  result, err := catalog.Apply(ctx, store)

SEE ALSO:
  - leave/types.go: LeaveType and LeavePolicy
  - presets.go: Built-in catalog
*/
package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// Catalog is the file representation of a set of leave types.
type Catalog struct {
	LeaveTypes []LeaveTypeSpec `yaml:"leave_types" json:"leave_types"`
}

type LeaveTypeSpec struct {
	ID                 string     `yaml:"id" json:"id"`
	Name               string     `yaml:"name" json:"name"`
	Category           string     `yaml:"category" json:"category"`
	Paid               bool       `yaml:"paid" json:"paid"`
	Deductible         bool       `yaml:"deductible" json:"deductible"`
	RequiresAttachment bool       `yaml:"requires_attachment" json:"requires_attachment"`
	AllowHalfDay       bool       `yaml:"allow_half_day" json:"allow_half_day"`
	Gender             string     `yaml:"gender,omitempty" json:"gender,omitempty"`
	MaxDurationDays    int        `yaml:"max_duration_days,omitempty" json:"max_duration_days,omitempty"`
	Policy             PolicySpec `yaml:"policy" json:"policy"`
}

type PolicySpec struct {
	AccrualMethod       string           `yaml:"accrual_method" json:"accrual_method"`
	MonthlyRate         decimal.Decimal  `yaml:"monthly_rate" json:"monthly_rate"`
	YearlyRate          decimal.Decimal  `yaml:"yearly_rate" json:"yearly_rate"`
	CarryForwardAllowed bool             `yaml:"carry_forward_allowed" json:"carry_forward_allowed"`
	MaxCarryForward     *decimal.Decimal `yaml:"max_carry_forward,omitempty" json:"max_carry_forward,omitempty"`
	RoundingRule        string           `yaml:"rounding_rule" json:"rounding_rule"`
	MinNoticeDays       int              `yaml:"min_notice_days" json:"min_notice_days"`
	MaxConsecutiveDays  int              `yaml:"max_consecutive_days" json:"max_consecutive_days"`
	Eligibility         EligibilitySpec  `yaml:"eligibility" json:"eligibility"`
}

type EligibilitySpec struct {
	MinTenureMonths int      `yaml:"min_tenure_months" json:"min_tenure_months"`
	ContractTypes   []string `yaml:"contract_types,omitempty" json:"contract_types,omitempty"`
}

// =============================================================================
// LOADING
// =============================================================================

// LoadCatalog parses and validates a YAML (or JSON) catalog.
func LoadCatalog(r io.Reader) (Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// LoadCatalogFile reads a catalog from path.
func LoadCatalogFile(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// Validate checks every entry and rejects duplicate IDs.
func (c Catalog) Validate() error {
	seen := make(map[string]bool, len(c.LeaveTypes))
	for _, spec := range c.LeaveTypes {
		if seen[spec.ID] {
			return fmt.Errorf("catalog: duplicate leave type %q", spec.ID)
		}
		seen[spec.ID] = true

		lt, p := spec.Build()
		if err := lt.Validate(); err != nil {
			return fmt.Errorf("catalog: leave type %q: %w", spec.ID, err)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("catalog: policy of %q: %w", spec.ID, err)
		}
	}
	return nil
}

// Build converts a LeaveTypeSpec into engine types.
func (s LeaveTypeSpec) Build() (leave.LeaveType, leave.LeavePolicy) {
	lt := leave.LeaveType{
		ID:                 leave.LeaveTypeID(s.ID),
		Name:               s.Name,
		Category:           leave.Category(s.Category),
		Paid:               s.Paid,
		Deductible:         s.Deductible,
		RequiresAttachment: s.RequiresAttachment,
		AllowHalfDay:       s.AllowHalfDay,
		Gender:             leave.Gender(s.Gender),
		MaxDurationDays:    s.MaxDurationDays,
	}

	rounding := leave.RoundingRule(s.Policy.RoundingRule)
	if rounding == "" {
		rounding = leave.RoundNone
	}
	contracts := make([]leave.ContractType, 0, len(s.Policy.Eligibility.ContractTypes))
	for _, ct := range s.Policy.Eligibility.ContractTypes {
		contracts = append(contracts, leave.ContractType(ct))
	}
	p := leave.LeavePolicy{
		LeaveTypeID:         lt.ID,
		AccrualMethod:       leave.AccrualMethod(s.Policy.AccrualMethod),
		MonthlyRate:         s.Policy.MonthlyRate,
		YearlyRate:          s.Policy.YearlyRate,
		CarryForwardAllowed: s.Policy.CarryForwardAllowed,
		MaxCarryForward:     s.Policy.MaxCarryForward,
		RoundingRule:        rounding,
		MinNoticeDays:       s.Policy.MinNoticeDays,
		MaxConsecutiveDays:  s.Policy.MaxConsecutiveDays,
		Eligibility: leave.Eligibility{
			MinTenureMonths:      s.Policy.Eligibility.MinTenureMonths,
			ContractTypesAllowed: contracts,
		},
	}
	return lt, p
}

// SpecOf is the inverse of Build, used to render stored leave types in the
// catalog file shape.
func SpecOf(lt leave.LeaveType, p leave.LeavePolicy) LeaveTypeSpec {
	contracts := make([]string, 0, len(p.Eligibility.ContractTypesAllowed))
	for _, ct := range p.Eligibility.ContractTypesAllowed {
		contracts = append(contracts, string(ct))
	}
	return LeaveTypeSpec{
		ID:                 string(lt.ID),
		Name:               lt.Name,
		Category:           string(lt.Category),
		Paid:               lt.Paid,
		Deductible:         lt.Deductible,
		RequiresAttachment: lt.RequiresAttachment,
		AllowHalfDay:       lt.AllowHalfDay,
		Gender:             string(lt.Gender),
		MaxDurationDays:    lt.MaxDurationDays,
		Policy: PolicySpec{
			AccrualMethod:       string(p.AccrualMethod),
			MonthlyRate:         p.MonthlyRate,
			YearlyRate:          p.YearlyRate,
			CarryForwardAllowed: p.CarryForwardAllowed,
			MaxCarryForward:     p.MaxCarryForward,
			RoundingRule:        string(p.RoundingRule),
			MinNoticeDays:       p.MinNoticeDays,
			MaxConsecutiveDays:  p.MaxConsecutiveDays,
			Eligibility: EligibilitySpec{
				MinTenureMonths: p.Eligibility.MinTenureMonths,
				ContractTypes:   contracts,
			},
		},
	}
}

// =============================================================================
// SEEDING
// =============================================================================

// ApplyResult counts what Apply wrote.
type ApplyResult struct {
	LeaveTypesCreated int
	PoliciesSaved     int
}

// Apply seeds the catalog into store. Running it twice writes nothing the
// second time.
func (c Catalog) Apply(ctx context.Context, store leave.Catalog) (ApplyResult, error) {
	var res ApplyResult
	if err := c.Validate(); err != nil {
		return res, err
	}
	for _, spec := range c.LeaveTypes {
		lt, p := spec.Build()

		err := store.SaveLeaveType(ctx, lt)
		switch {
		case err == nil:
			res.LeaveTypesCreated++
		case errors.Is(err, generic.ErrAlreadyExists):
		default:
			return res, fmt.Errorf("save leave type %s: %w", lt.ID, err)
		}

		current, err := store.GetPolicy(ctx, lt.ID)
		if err == nil && samePolicy(current, p) {
			continue
		}
		if err != nil && !errors.Is(err, generic.ErrNotFound) {
			return res, fmt.Errorf("load policy %s: %w", lt.ID, err)
		}
		if _, err := store.SavePolicy(ctx, p); err != nil {
			return res, fmt.Errorf("save policy %s: %w", lt.ID, err)
		}
		res.PoliciesSaved++
	}
	return res, nil
}

// samePolicy compares the rule fields, ignoring version and timestamps.
func samePolicy(a, b leave.LeavePolicy) bool {
	sameCap := (a.MaxCarryForward == nil) == (b.MaxCarryForward == nil) &&
		(a.MaxCarryForward == nil || a.MaxCarryForward.Equal(*b.MaxCarryForward))
	return sameCap &&
		a.AccrualMethod == b.AccrualMethod &&
		a.MonthlyRate.Equal(b.MonthlyRate) &&
		a.YearlyRate.Equal(b.YearlyRate) &&
		a.CarryForwardAllowed == b.CarryForwardAllowed &&
		a.RoundingRule == b.RoundingRule &&
		a.MinNoticeDays == b.MinNoticeDays &&
		a.MaxConsecutiveDays == b.MaxConsecutiveDays &&
		a.Eligibility.MinTenureMonths == b.Eligibility.MinTenureMonths &&
		slices.Equal(a.Eligibility.ContractTypesAllowed, b.Eligibility.ContractTypesAllowed)
}
