package workflow

import "errors"

// Engine errors. Every one of them is a rejected operation: the input state is
// returned to the caller untouched.
var (
	ErrUnknownCategory = errors.New("unknown expense category")
	ErrNotYourTurn     = errors.New("a lower approval level is still pending")
	ErrWrongRole       = errors.New("actor role does not match the step approver role")
	ErrAlreadyDecided  = errors.New("approval step is already decided")
	ErrRequestClosed   = errors.New("approval request is already closed")
	ErrStepNotFound    = errors.New("approval step not found")
	ErrInvalidDecision = errors.New("decision must be approved or rejected")
	ErrInvalidTrail    = errors.New("invalid approval trail")
	ErrInvalidAmount   = errors.New("invalid expense amount")

	ErrOverPick       = errors.New("picked quantity would exceed ordered quantity")
	ErrNegativePick   = errors.New("picked quantity cannot decrease")
	ErrOrderCancelled = errors.New("order is cancelled")
	ErrPickRecorded   = errors.New("order already has recorded picks")
	ErrOrderLocked    = errors.New("order can no longer be edited")
	ErrLineNotFound   = errors.New("order line not found")
	ErrInvalidLine    = errors.New("invalid order line")
)
