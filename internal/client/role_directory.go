package client

import (
	"slices"
	"strings"

	"github.com/pesio-ai/be-workflow-engine/internal/workflow"
)

// DefaultPositions maps user-level position roles to the approver role they
// act as.
var DefaultPositions = map[string]workflow.Role{
	"manager": workflow.RoleSupervisor,
	"admin":   workflow.RoleDepartmentHead,
	"ceo":     workflow.RoleGeneralManager,
	"hr":      workflow.RoleHRLead,
	"finance": workflow.RoleFinanceLead,
}

// RoleDirectory resolves the role claimed by a caller into an approver role.
// Callers may pass an approver role directly or a position role from
// DefaultPositions (or the map the directory was built with).
type RoleDirectory struct {
	positions map[string]workflow.Role
}

// NewRoleDirectory builds a directory. A nil map uses DefaultPositions.
func NewRoleDirectory(positions map[string]workflow.Role) *RoleDirectory {
	if positions == nil {
		positions = DefaultPositions
	}
	normalized := make(map[string]workflow.Role, len(positions))
	for k, v := range positions {
		normalized[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &RoleDirectory{positions: normalized}
}

// Resolve returns the approver role for claimed. Unmapped roles (plain
// employees, for instance) report false and have no approval queue.
func (d *RoleDirectory) Resolve(claimed string) (workflow.Role, bool) {
	key := strings.ToLower(strings.TrimSpace(claimed))
	if r := workflow.Role(key); r.IsValid() {
		return r, true
	}
	r, ok := d.positions[key]
	return r, ok
}

// Positions lists, sorted, the position roles that map to role.
func (d *RoleDirectory) Positions(role workflow.Role) []string {
	var out []string
	for k, v := range d.positions {
		if v == role {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
