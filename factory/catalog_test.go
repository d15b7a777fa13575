package factory_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

const catalogYAML = `
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
  - id: maternity
    name: Maternity Leave
    category: maternity
    paid: true
    deductible: true
    requires_attachment: true
    gender: female
    policy:
      accrual_method: ON_DEMAND
`

func TestLoadCatalog(t *testing.T) {
	// WHEN
	c, err := factory.LoadCatalog(strings.NewReader(catalogYAML))

	// THEN
	require.NoError(t, err)
	require.Len(t, c.LeaveTypes, 2)

	lt, p := c.LeaveTypes[0].Build()
	assert.Equal(t, leave.LeaveTypeID("annual"), lt.ID)
	assert.True(t, lt.AllowHalfDay)
	assert.Equal(t, leave.AccrualMonthly, p.AccrualMethod)
	assert.True(t, p.MonthlyRate.Equal(decimal.RequireFromString("1.5")))
	require.NotNil(t, p.MaxCarryForward)
	assert.Equal(t, "5", p.MaxCarryForward.String())
	assert.Equal(t, []leave.ContractType{leave.ContractPermanent, leave.ContractFixedTerm}, p.Eligibility.ContractTypesAllowed)

	mat, mp := c.LeaveTypes[1].Build()
	assert.Equal(t, leave.GenderFemale, mat.Gender)
	assert.Equal(t, leave.RoundNone, mp.RoundingRule, "empty rounding defaults to none")
	assert.Nil(t, mp.MaxCarryForward)
}

func TestLoadCatalog_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":   "leave_types:\n  - id: a\n    name: A\n    colour: red\n",
		"duplicate id":    "leave_types:\n  - {id: a, name: A, policy: {accrual_method: NONE}}\n  - {id: a, name: B, policy: {accrual_method: NONE}}\n",
		"missing name":    "leave_types:\n  - {id: a, policy: {accrual_method: NONE}}\n",
		"bad method":      "leave_types:\n  - {id: a, name: A, policy: {accrual_method: WEEKLY}}\n",
		"bad gender":      "leave_types:\n  - {id: a, name: A, gender: other, policy: {accrual_method: NONE}}\n",
		"negative notice": "leave_types:\n  - {id: a, name: A, policy: {accrual_method: NONE, min_notice_days: -1}}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := factory.LoadCatalog(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalogFile_ReadsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"leave_types":[{"id":"unpaid","name":"Unpaid","policy":{"accrual_method":"NONE"}}]}`), 0o600))

	c, err := factory.LoadCatalogFile(path)

	require.NoError(t, err)
	require.Len(t, c.LeaveTypes, 1)
	assert.Equal(t, "unpaid", c.LeaveTypes[0].ID)

	_, err = factory.LoadCatalogFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultCatalog_IsValid(t *testing.T) {
	c := factory.DefaultCatalog()
	require.NoError(t, c.Validate())

	byID := map[string]factory.LeaveTypeSpec{}
	for _, spec := range c.LeaveTypes {
		byID[spec.ID] = spec
	}
	assert.Equal(t, "1.5", byID["annual"].Policy.MonthlyRate.String())
	assert.Equal(t, string(leave.GenderFemale), byID["maternity"].Gender)
	assert.Equal(t, string(leave.GenderMale), byID["paternity"].Gender)
	assert.False(t, byID["mission"].Deductible)
}

func TestApply_IsIdempotent(t *testing.T) {
	// GIVEN: An empty store
	ctx := context.Background()
	store := memory.New()
	c := factory.DefaultCatalog()

	// WHEN: Applied twice
	first, err := c.Apply(ctx, store)
	require.NoError(t, err)
	second, err := c.Apply(ctx, store)
	require.NoError(t, err)

	// THEN: The second run writes nothing
	assert.Equal(t, len(c.LeaveTypes), first.LeaveTypesCreated)
	assert.Equal(t, len(c.LeaveTypes), first.PoliciesSaved)
	assert.Equal(t, factory.ApplyResult{}, second)

	p, err := store.GetPolicy(ctx, "annual")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version)
}

func TestApply_VersionsChangedPolicy(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c := factory.Catalog{LeaveTypes: []factory.LeaveTypeSpec{
		factory.AnnualLeave("annual", decimal.NewFromInt(18), decimal.NewFromInt(5)),
	}}
	_, err := c.Apply(ctx, store)
	require.NoError(t, err)

	// WHEN: HR raises the notice period
	c.LeaveTypes[0].Policy.MinNoticeDays = 14
	res, err := c.Apply(ctx, store)

	// THEN: A new version, the leave type itself untouched
	require.NoError(t, err)
	assert.Equal(t, factory.ApplyResult{PoliciesSaved: 1}, res)
	p, err := store.GetPolicy(ctx, "annual")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Version)
	assert.Equal(t, 14, p.MinNoticeDays)
}

func TestSpecOf_InvertsBuild(t *testing.T) {
	for _, spec := range factory.DefaultCatalog().LeaveTypes {
		t.Run(spec.ID, func(t *testing.T) {
			lt, p := spec.Build()
			back := factory.SpecOf(lt, p)
			lt2, p2 := back.Build()
			assert.Equal(t, lt, lt2)
			assert.Equal(t, p.AccrualMethod, p2.AccrualMethod)
			assert.True(t, p.MonthlyRate.Equal(p2.MonthlyRate))
			assert.Equal(t, p.Eligibility, p2.Eligibility)
		})
	}
}
