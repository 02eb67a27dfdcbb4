package workflow

import (
	"fmt"
	"time"
)

// StepStatus is the state of a single approval step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

// IsTerminal reports whether no further transition is possible.
func (s StepStatus) IsTerminal() bool {
	return s == StepApproved || s == StepRejected
}

// IsValid reports whether s is pending or a terminal decision.
func (s StepStatus) IsValid() bool {
	return s == StepPending || s.IsTerminal()
}

// ApprovalStep is one required decision at a given escalation level.
type ApprovalStep struct {
	Level        int        `json:"level"`
	ApproverRole Role       `json:"approver_role"`
	Status       StepStatus `json:"status"`
	DecidedBy    string     `json:"decided_by,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	Comment      string     `json:"comment,omitempty"`
}

// Actor is the opaque (identity, role) pair supplied by the caller.
type Actor struct {
	ID   string
	Role Role
}

// Decide resolves the step at level with decision on behalf of actor. steps is
// not modified; the returned slice is a fresh copy with the one step updated.
// An empty comment is replaced by the decision label.
func Decide(steps []ApprovalStep, level int, actor Actor, decision StepStatus, comment string, now time.Time) ([]ApprovalStep, error) {
	if !decision.IsTerminal() {
		return nil, ErrInvalidDecision
	}

	idx := -1
	for i := range steps {
		if steps[i].Level == level {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: level %d", ErrStepNotFound, level)
	}

	step := steps[idx]
	if step.Status != StepPending {
		return nil, fmt.Errorf("%w: level %d is %s", ErrAlreadyDecided, level, step.Status)
	}
	if Aggregate(steps).IsTerminal() {
		return nil, ErrRequestClosed
	}
	for _, s := range steps {
		if s.Level < level && s.Status == StepPending {
			return nil, fmt.Errorf("%w: level %d", ErrNotYourTurn, s.Level)
		}
	}
	if actor.Role != step.ApproverRole {
		return nil, fmt.Errorf("%w: level %d requires %s", ErrWrongRole, level, step.ApproverRole)
	}

	if comment == "" {
		comment = string(decision)
	}
	decidedAt := now
	step.Status = decision
	step.DecidedBy = actor.ID
	step.DecidedAt = &decidedAt
	step.Comment = comment

	out := make([]ApprovalStep, len(steps))
	copy(out, steps)
	out[idx] = step
	return out, nil
}

// ValidateTrail checks the structural invariants of a persisted trail:
// non-empty, levels 1..N in order, distinct valid roles, and decision
// metadata present exactly when a step is decided.
func ValidateTrail(steps []ApprovalStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidTrail)
	}
	seen := make(map[Role]bool, len(steps))
	for i, s := range steps {
		if s.Level != i+1 {
			return fmt.Errorf("%w: position %d has level %d", ErrInvalidTrail, i+1, s.Level)
		}
		if !s.ApproverRole.IsValid() {
			return fmt.Errorf("%w: level %d has unknown role %q", ErrInvalidTrail, s.Level, s.ApproverRole)
		}
		if seen[s.ApproverRole] {
			return fmt.Errorf("%w: role %s appears twice", ErrInvalidTrail, s.ApproverRole)
		}
		seen[s.ApproverRole] = true
		if !s.Status.IsValid() {
			return fmt.Errorf("%w: level %d has status %q", ErrInvalidTrail, s.Level, s.Status)
		}
		decided := s.DecidedBy != "" && s.DecidedAt != nil
		if s.Status.IsTerminal() != decided {
			return fmt.Errorf("%w: level %d decision metadata does not match status", ErrInvalidTrail, s.Level)
		}
	}
	return nil
}
