package workflow

// RequestStatus is the derived status of an approval request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestReviewing RequestStatus = "reviewing"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
)

// IsTerminal reports whether the request accepts no further decisions.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestApproved || s == RequestRejected
}

// Aggregate folds step statuses into the request status. Only the multiset of
// statuses matters: one rejection rejects the request, all approved approves
// it, any approval otherwise means reviewing.
func Aggregate(steps []ApprovalStep) RequestStatus {
	var approved int
	for _, s := range steps {
		switch s.Status {
		case StepRejected:
			return RequestRejected
		case StepApproved:
			approved++
		}
	}
	switch {
	case len(steps) > 0 && approved == len(steps):
		return RequestApproved
	case approved > 0:
		return RequestReviewing
	default:
		return RequestPending
	}
}

// CurrentLevel returns the lowest pending level, or 0 when nothing is pending.
func CurrentLevel(steps []ApprovalStep) int {
	min := 0
	for _, s := range steps {
		if s.Status == StepPending && (min == 0 || s.Level < min) {
			min = s.Level
		}
	}
	return min
}

// ActionableBy returns the step role may decide now: the lowest pending step,
// provided its approver role is role and the request is still open.
func ActionableBy(steps []ApprovalStep, role Role) (ApprovalStep, bool) {
	if Aggregate(steps).IsTerminal() {
		return ApprovalStep{}, false
	}
	level := CurrentLevel(steps)
	if level == 0 {
		return ApprovalStep{}, false
	}
	for _, s := range steps {
		if s.Level == level && s.ApproverRole == role {
			return s, true
		}
	}
	return ApprovalStep{}, false
}
