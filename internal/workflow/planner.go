package workflow

// Default escalation thresholds, in whole currency units. A threshold is
// crossed only when the magnitude is strictly greater than it.
const (
	DefaultDepartmentHeadAbove int64 = 50_000
	DefaultFinanceLeadAbove    int64 = 100_000
	DefaultGeneralManagerAbove int64 = 200_000
)

// RoutePlanner maps a category rule and a magnitude to the ordered list of
// approver roles a request must collect.
type RoutePlanner struct {
	DepartmentHeadAbove int64
	FinanceLeadAbove    int64
	GeneralManagerAbove int64
}

// NewRoutePlanner returns a planner using the default thresholds.
func NewRoutePlanner() RoutePlanner {
	return RoutePlanner{
		DepartmentHeadAbove: DefaultDepartmentHeadAbove,
		FinanceLeadAbove:    DefaultFinanceLeadAbove,
		GeneralManagerAbove: DefaultGeneralManagerAbove,
	}
}

// Plan returns the approver roles in escalation order. The result always
// starts with the supervisor and never repeats a role. Each matching
// condition appends; none replaces an earlier step.
func (p RoutePlanner) Plan(rule CategoryRule, magnitude int64) []Role {
	roles := []Role{RoleSupervisor}
	add := func(r Role) {
		for _, have := range roles {
			if have == r {
				return
			}
		}
		roles = append(roles, r)
	}

	if rule.Bucket == BucketAdmin || rule.Bucket == BucketRD || magnitude > p.DepartmentHeadAbove {
		add(RoleDepartmentHead)
	}
	if magnitude > p.FinanceLeadAbove || rule.MandatoryApprover == RoleFinanceLead {
		add(RoleFinanceLead)
	}
	if magnitude > p.GeneralManagerAbove || rule.MandatoryApprover == RoleGeneralManager {
		add(RoleGeneralManager)
	}
	return roles
}

// PlanSteps plans the route and expands it into a pending approval trail with
// levels 1..N.
func (p RoutePlanner) PlanSteps(rule CategoryRule, magnitude int64) []ApprovalStep {
	return NewTrail(p.Plan(rule, magnitude))
}

// NewTrail builds pending steps for roles, numbering levels by position.
func NewTrail(roles []Role) []ApprovalStep {
	steps := make([]ApprovalStep, len(roles))
	for i, r := range roles {
		steps[i] = ApprovalStep{
			Level:        i + 1,
			ApproverRole: r,
			Status:       StepPending,
		}
	}
	return steps
}
