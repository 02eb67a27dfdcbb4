package workflow

import (
	"fmt"
	"math"
	"time"
)

// ExpenseItem is one line of an expense claim.
type ExpenseItem struct {
	Category    string `json:"category"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	HasReceipt  bool   `json:"has_receipt"`
	OverLimit   bool   `json:"over_limit"`
}

// ApprovalRequest is a request with its approval trail. Status is always
// derived from Steps; it is never stored independently.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	Magnitude   int64          `json:"magnitude"`
	Category    string         `json:"category"`
	Purpose     string         `json:"purpose,omitempty"`
	SubmittedBy string         `json:"submitted_by"`
	SubmittedAt time.Time      `json:"submitted_at"`
	Items       []ExpenseItem  `json:"items,omitempty"`
	Steps       []ApprovalStep `json:"steps"`
	Version     int64          `json:"version"`
}

// Status derives the request-level status from the trail.
func (r *ApprovalRequest) Status() RequestStatus {
	return Aggregate(r.Steps)
}

// Decide returns a copy of r with the decision applied. r is unchanged on
// success and on failure.
func (r *ApprovalRequest) Decide(level int, actor Actor, decision StepStatus, comment string, now time.Time) (*ApprovalRequest, error) {
	steps, err := Decide(r.Steps, level, actor, decision, comment, now)
	if err != nil {
		return nil, err
	}
	next := *r
	next.Steps = steps
	return &next, nil
}

// NewExpenseRequest sums items into the magnitude, routes on the first item's
// category and builds the pending trail. Every item category must exist and
// amounts must be non-negative with a total that fits in an int64. Items over their category limit are flagged.
func NewExpenseRequest(policy *CategoryPolicy, planner RoutePlanner, id, submittedBy, purpose string, items []ExpenseItem, now time.Time) (*ApprovalRequest, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("expense request needs at least one item")
	}

	flagged := make([]ExpenseItem, len(items))
	var total int64
	for i, it := range items {
		if it.Amount < 0 {
			return nil, fmt.Errorf("%w: item %d is negative", ErrInvalidAmount, i+1)
		}
		if it.Amount > math.MaxInt64-total {
			return nil, fmt.Errorf("%w: item %d overflows the request total", ErrInvalidAmount, i+1)
		}
		over, err := policy.ExceedsLimit(it.Category, it.Amount)
		if err != nil {
			return nil, err
		}
		it.OverLimit = over
		flagged[i] = it
		total += it.Amount
	}

	rule, err := policy.Lookup(items[0].Category)
	if err != nil {
		return nil, err
	}

	return &ApprovalRequest{
		ID:          id,
		Magnitude:   total,
		Category:    rule.Code,
		Purpose:     purpose,
		SubmittedBy: submittedBy,
		SubmittedAt: now,
		Items:       flagged,
		Steps:       planner.PlanSteps(rule, total),
	}, nil
}
