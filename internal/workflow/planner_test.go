package workflow

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRules() []CategoryRule {
	return []CategoryRule{
		{Code: "5401101", Label: "Direct labor", Bucket: BucketDirectLabor, SpendingLimit: 200000, MandatoryApprover: RoleHRLead},
		{Code: "5503101", Label: "Stationery and printing", Bucket: BucketManufacturingOverhead, SpendingLimit: 30000, MandatoryApprover: RoleSupervisor},
		{Code: "5507101", Label: "Repairs", Bucket: BucketManufacturingOverhead, SpendingLimit: 100000, MandatoryApprover: RoleDepartmentHead},
		{Code: "6103601", Label: "Advertising", Bucket: BucketSelling, SpendingLimit: 200000, MandatoryApprover: RoleGeneralManager},
		{Code: "6105501", Label: "Entertainment", Bucket: BucketSelling, SpendingLimit: 80000, MandatoryApprover: RoleFinanceLead},
		{Code: "6201101", Label: "Admin salaries", Bucket: BucketAdmin, SpendingLimit: 400000, MandatoryApprover: RoleHRLead},
		{Code: "6308202", Label: "Research and development", Bucket: BucketRD, SpendingLimit: 500000, MandatoryApprover: RoleGeneralManager},
		{Code: "9999999", Label: "Other", Bucket: BucketOther, SpendingLimit: 10000, MandatoryApprover: RoleSupervisor},
	}
}

func mustRule(t *testing.T, code string) CategoryRule {
	t.Helper()
	p, err := NewCategoryPolicy(testRules())
	require.NoError(t, err)
	r, err := p.Lookup(code)
	require.NoError(t, err)
	return r
}

func TestPlan(t *testing.T) {
	planner := NewRoutePlanner()

	tests := []struct {
		name      string
		code      string
		magnitude int64
		want      []Role
	}{
		{
			name:      "Small stationery claim needs only the supervisor",
			code:      "5503101",
			magnitude: 1200,
			want:      []Role{RoleSupervisor},
		},
		{
			name:      "Exactly 50k does not escalate",
			code:      "5503101",
			magnitude: 50000,
			want:      []Role{RoleSupervisor},
		},
		{
			name:      "Above 50k adds department head",
			code:      "5503101",
			magnitude: 50001,
			want:      []Role{RoleSupervisor, RoleDepartmentHead},
		},
		{
			name:      "Admin bucket always adds department head",
			code:      "6201101",
			magnitude: 10,
			want:      []Role{RoleSupervisor, RoleDepartmentHead},
		},
		{
			name:      "R&D bucket with general manager mandate",
			code:      "6308202",
			magnitude: 10,
			want:      []Role{RoleSupervisor, RoleDepartmentHead, RoleGeneralManager},
		},
		{
			name:      "Finance lead mandate without thresholds",
			code:      "6105501",
			magnitude: 3000,
			want:      []Role{RoleSupervisor, RoleFinanceLead},
		},
		{
			name:      "Selling 75k with finance lead mandate",
			code:      "6105501",
			magnitude: 75000,
			want:      []Role{RoleSupervisor, RoleDepartmentHead, RoleFinanceLead},
		},
		{
			name:      "Finance lead mandate above 100k is not duplicated",
			code:      "6105501",
			magnitude: 150000,
			want:      []Role{RoleSupervisor, RoleDepartmentHead, RoleFinanceLead},
		},
		{
			name:      "Above 200k collects every escalation level",
			code:      "5503101",
			magnitude: 250000,
			want:      []Role{RoleSupervisor, RoleDepartmentHead, RoleFinanceLead, RoleGeneralManager},
		},
		{
			name:      "General manager mandate skips finance lead under 100k",
			code:      "6103601",
			magnitude: 20000,
			want:      []Role{RoleSupervisor, RoleGeneralManager},
		},
		{
			name:      "HR lead mandate does not add a step",
			code:      "5401101",
			magnitude: 20000,
			want:      []Role{RoleSupervisor},
		},
		{
			name:      "Zero magnitude",
			code:      "9999999",
			magnitude: 0,
			want:      []Role{RoleSupervisor},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := planner.Plan(mustRule(t, tt.code), tt.magnitude)
			assert.Equal(t, tt.want, got)
		})
	}
}

var magnitudes = []int64{0, 1, 49999, 50000, 50001, 75000, 99999, 100000, 100001, 150000, 200000, 200001, 1_000_000, math.MaxInt64 / 2, math.MaxInt64 - 1, math.MaxInt64}

func TestPlanStepsAreContiguousAndDistinct(t *testing.T) {
	planner := NewRoutePlanner()
	for _, rule := range testRules() {
		for _, m := range magnitudes {
			steps := planner.PlanSteps(rule, m)
			require.NotEmpty(t, steps)
			require.NoError(t, ValidateTrail(steps), "rule %s magnitude %d", rule.Code, m)
			assert.Equal(t, RoleSupervisor, steps[0].ApproverRole)
			for _, s := range steps {
				assert.Equal(t, StepPending, s.Status)
			}
		}
	}
}

func TestPlanIsMonotonicInMagnitude(t *testing.T) {
	planner := NewRoutePlanner()
	for _, rule := range testRules() {
		for i := range magnitudes {
			for j := i; j < len(magnitudes); j++ {
				small := planner.Plan(rule, magnitudes[i])
				large := planner.Plan(rule, magnitudes[j])
				assert.Subset(t, large, small, "rule %s: %d -> %d", rule.Code, magnitudes[i], magnitudes[j])
			}
		}
		top := planner.Plan(rule, math.MaxInt64)
		assert.Equal(t, []Role{RoleSupervisor, RoleDepartmentHead, RoleFinanceLead, RoleGeneralManager}, top, "rule %s", rule.Code)
	}
}

func TestPlanCustomThresholds(t *testing.T) {
	planner := RoutePlanner{DepartmentHeadAbove: 10, FinanceLeadAbove: 20, GeneralManagerAbove: 30}
	got := planner.Plan(mustRule(t, "9999999"), 25)
	assert.Equal(t, []Role{RoleSupervisor, RoleDepartmentHead, RoleFinanceLead}, got)
}
