package workflow

// Role is an approver role. The set is fixed; identity-to-role resolution
// happens outside the engine.
type Role string

const (
	RoleSupervisor     Role = "supervisor"
	RoleDepartmentHead Role = "department_head"
	RoleFinanceLead    Role = "finance_lead"
	RoleGeneralManager Role = "general_manager"
	RoleHRLead         Role = "hr_lead"
)

var validRoles = map[Role]bool{
	RoleSupervisor:     true,
	RoleDepartmentHead: true,
	RoleFinanceLead:    true,
	RoleGeneralManager: true,
	RoleHRLead:         true,
}

// IsValid reports whether r belongs to the fixed role set.
func (r Role) IsValid() bool {
	return validRoles[r]
}

func (r Role) String() string {
	return string(r)
}

// Bucket is the coarse expense classification of a category.
type Bucket string

const (
	BucketDirectLabor           Bucket = "direct_labor"
	BucketManufacturingOverhead Bucket = "manufacturing_overhead"
	BucketSelling               Bucket = "selling"
	BucketAdmin                 Bucket = "admin"
	BucketRD                    Bucket = "rnd"
	BucketOther                 Bucket = "other"
)

var validBuckets = map[Bucket]bool{
	BucketDirectLabor:           true,
	BucketManufacturingOverhead: true,
	BucketSelling:               true,
	BucketAdmin:                 true,
	BucketRD:                    true,
	BucketOther:                 true,
}

// IsValid reports whether b belongs to the fixed bucket set.
func (b Bucket) IsValid() bool {
	return validBuckets[b]
}
