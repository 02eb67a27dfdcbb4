package service

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-workflow-engine/internal/client"
	"github.com/pesio-ai/be-workflow-engine/internal/errors"
	"github.com/pesio-ai/be-workflow-engine/internal/lock"
	"github.com/pesio-ai/be-workflow-engine/internal/logger"
	"github.com/pesio-ai/be-workflow-engine/internal/metrics"
	"github.com/pesio-ai/be-workflow-engine/internal/repository"
	"github.com/pesio-ai/be-workflow-engine/internal/workflow"
)

// ApprovalService orchestrates expense submission and the multi-level
// approval trail.
type ApprovalService struct {
	base
	requests RequestStore
	notifier Notifier
	policy   *workflow.CategoryPolicy
	planner  workflow.RoutePlanner
	roles    *client.RoleDirectory
}

// NewApprovalService creates a new ApprovalService. locker, notifier and m
// may be nil.
func NewApprovalService(
	requests RequestStore,
	audit AuditStore,
	locker lock.Locker,
	notifier Notifier,
	policy *workflow.CategoryPolicy,
	planner workflow.RoutePlanner,
	roles *client.RoleDirectory,
	m *metrics.Metrics,
	log *logger.Logger,
) *ApprovalService {
	if roles == nil {
		roles = client.NewRoleDirectory(nil)
	}
	return &ApprovalService{
		base:     newBase(audit, locker, m, log),
		requests: requests,
		notifier: notifier,
		policy:   policy,
		planner:  planner,
		roles:    roles,
	}
}

// SubmitExpenseRequest is an expense claim to route for approval.
type SubmitExpenseRequest struct {
	SubmittedBy string
	Purpose     string
	Items       []workflow.ExpenseItem
}

// DecideRequest records one approver's decision. Level 0 means "the step the
// actor can currently act on".
type DecideRequest struct {
	RequestID string
	Level     int
	ActorID   string
	ActorRole string
	Decision  string
	Comment   string
}

// Summary is the dashboard view of request counts.
type Summary struct {
	Pending    int `json:"pending"`
	Reviewing  int `json:"reviewing"`
	InProgress int `json:"in_progress"`
	Approved   int `json:"approved"`
	Rejected   int `json:"rejected"`
	Total      int `json:"total"`
}

// ── Submission ────────────────────────────────────────────────────────────────

// Submit looks up the category, plans the trail and persists a new request.
func (s *ApprovalService) Submit(ctx context.Context, in SubmitExpenseRequest) (*workflow.ApprovalRequest, error) {
	if in.SubmittedBy == "" {
		return nil, errors.InvalidInput("submitted_by", "submitter is required")
	}

	req, err := workflow.NewExpenseRequest(s.policy, s.planner, s.newID(), in.SubmittedBy, in.Purpose, in.Items, s.now())
	if err != nil {
		return nil, errors.FromDomain(err)
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	status := string(req.Status())
	s.appendAudit(ctx, &repository.AuditEntry{
		EntityType:  repository.EntityExpense,
		EntityID:    req.ID,
		Action:      repository.ActionSubmitted,
		PerformedBy: in.SubmittedBy,
		StatusAfter: &status,
		Metadata: map[string]any{
			"category":   req.Category,
			"magnitude":  req.Magnitude,
			"items":      len(req.Items),
			"over_limit": overLimitCount(req.Items),
			"steps":      len(req.Steps),
		},
	})

	if s.metrics != nil {
		s.metrics.RecordSubmitted(req.Category, len(req.Steps))
	}

	s.publish(ctx, client.EventApprovalSubmitted, req, in.SubmittedBy, []string{in.SubmittedBy}, false)
	s.notifyNextApprover(ctx, req, in.SubmittedBy)

	s.log.Info().
		Str("request_id", req.ID).
		Str("category", req.Category).
		Int64("magnitude", req.Magnitude).
		Int("total_steps", len(req.Steps)).
		Msg("Approval request submitted")

	return req, nil
}

// ── Decision ──────────────────────────────────────────────────────────────────

// Decide applies an approve or reject decision under the request lock and
// saves it against the version it was read at.
func (s *ApprovalService) Decide(ctx context.Context, in DecideRequest) (*workflow.ApprovalRequest, error) {
	if in.ActorID == "" {
		return nil, errors.InvalidInput("actor_id", "actor is required")
	}
	decision := workflow.StepStatus(in.Decision)
	if !decision.IsTerminal() {
		return nil, errors.FromDomain(fmt.Errorf("%w: %q", workflow.ErrInvalidDecision, in.Decision))
	}
	role, ok := s.roles.Resolve(in.ActorRole)
	if !ok {
		role = workflow.Role(in.ActorRole)
	}
	actor := workflow.Actor{ID: in.ActorID, Role: role}

	release, err := s.acquire(ctx, repository.EntityExpense, in.RequestID)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}

	level := in.Level
	if level == 0 {
		if level, err = actionableLevel(current, role); err != nil {
			return nil, errors.FromDomain(err)
		}
	}

	before := current.Status()
	next, err := current.Decide(level, actor, decision, in.Comment, s.now())
	if err != nil {
		return nil, errors.FromDomain(err)
	}

	if err := s.requests.SaveSteps(ctx, next, current.Version); err != nil {
		s.conflict(repository.EntityExpense, err)
		return nil, err
	}

	after := next.Status()
	step := stepAt(next.Steps, level)
	action := repository.ActionApproved
	if decision == workflow.StepRejected {
		action = repository.ActionRejected
	}
	s.appendAudit(ctx, &repository.AuditEntry{
		EntityType:   repository.EntityExpense,
		EntityID:     next.ID,
		Action:       action,
		PerformedBy:  actor.ID,
		StatusBefore: strPtr(string(before)),
		StatusAfter:  strPtr(string(after)),
		Metadata: map[string]any{
			"level":   level,
			"role":    string(step.ApproverRole),
			"comment": step.Comment,
		},
	})

	if s.metrics != nil {
		s.metrics.RecordDecision(string(step.ApproverRole), string(decision), string(after), after.IsTerminal())
	}

	switch after {
	case workflow.RequestRejected:
		s.publish(ctx, client.EventApprovalRejected, next, actor.ID, []string{next.SubmittedBy}, false)
	case workflow.RequestApproved:
		s.publish(ctx, client.EventApprovalApproved, next, actor.ID, []string{next.SubmittedBy}, false)
	default:
		s.notifyNextApprover(ctx, next, actor.ID)
	}

	s.log.Info().
		Str("request_id", next.ID).
		Int("level", level).
		Str("role", string(step.ApproverRole)).
		Str("decision", string(decision)).
		Str("status", string(after)).
		Msg("Approval step decided")

	return next, nil
}

// actionableLevel finds the step role may act on. When there is none it
// returns the level of role's own step so the engine reports why, or a
// closed/wrong-role error when role has no step at all.
func actionableLevel(req *workflow.ApprovalRequest, role workflow.Role) (int, error) {
	if step, ok := workflow.ActionableBy(req.Steps, role); ok {
		return step.Level, nil
	}
	for _, st := range req.Steps {
		if st.ApproverRole == role {
			return st.Level, nil
		}
	}
	if req.Status().IsTerminal() {
		return 0, workflow.ErrRequestClosed
	}
	return 0, fmt.Errorf("%w: %s has no step on this request", workflow.ErrWrongRole, role)
}

// ── Queries ───────────────────────────────────────────────────────────────────

// Get returns one request with its trail.
func (s *ApprovalService) Get(ctx context.Context, id string) (*workflow.ApprovalRequest, error) {
	return s.requests.GetByID(ctx, id)
}

// Queue lists the open requests the claimed role can act on now. Roles
// without approval authority get an empty queue.
func (s *ApprovalService) Queue(ctx context.Context, claimedRole string) ([]*workflow.ApprovalRequest, error) {
	role, ok := s.roles.Resolve(claimedRole)
	if !ok {
		return []*workflow.ApprovalRequest{}, nil
	}
	reqs, err := s.requests.ListPendingForRole(ctx, role)
	if err != nil {
		return nil, err
	}

	out := make([]*workflow.ApprovalRequest, 0, len(reqs))
	for _, r := range reqs {
		if _, ok := workflow.ActionableBy(r.Steps, role); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// History returns the audit trail of a request, oldest first.
func (s *ApprovalService) History(ctx context.Context, id string) ([]*repository.AuditEntry, error) {
	if _, err := s.requests.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []*repository.AuditEntry{}, nil
	}
	return s.audit.ListByEntity(ctx, repository.EntityExpense, id)
}

// Summary counts requests per status.
func (s *ApprovalService) Summary(ctx context.Context) (*Summary, error) {
	counts, err := s.requests.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	sum := &Summary{
		Pending:   counts[string(workflow.RequestPending)],
		Reviewing: counts[string(workflow.RequestReviewing)],
		Approved:  counts[string(workflow.RequestApproved)],
		Rejected:  counts[string(workflow.RequestRejected)],
	}
	sum.InProgress = sum.Pending + sum.Reviewing
	sum.Total = sum.InProgress + sum.Approved + sum.Rejected
	return sum, nil
}

// Categories returns the category table, optionally narrowed to one bucket.
func (s *ApprovalService) Categories(bucket string) ([]workflow.CategoryRule, error) {
	if bucket == "" {
		return s.policy.Rules(), nil
	}
	b := workflow.Bucket(bucket)
	if !b.IsValid() {
		return nil, errors.InvalidInput("bucket", fmt.Sprintf("unknown bucket %q", bucket))
	}
	return s.policy.ByBucket(b), nil
}

// ── Notifications ─────────────────────────────────────────────────────────────

func (s *ApprovalService) notifyNextApprover(ctx context.Context, req *workflow.ApprovalRequest, actorID string) {
	level := workflow.CurrentLevel(req.Steps)
	if level == 0 {
		return
	}
	role := stepAt(req.Steps, level).ApproverRole
	recipients := append([]string{string(role)}, s.roles.Positions(role)...)
	s.publish(ctx, client.EventApprovalRequired, req, actorID, recipients, true)
}

func (s *ApprovalService) publish(ctx context.Context, eventType string, req *workflow.ApprovalRequest, actorID string, recipients []string, actionable bool) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, client.NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: repository.EntityExpense,
		ResourceID:   req.ID,
		IsActionable: actionable,
		Payload: map[string]any{
			"category":      req.Category,
			"magnitude":     req.Magnitude,
			"status":        string(req.Status()),
			"current_level": workflow.CurrentLevel(req.Steps),
		},
	})
}

func stepAt(steps []workflow.ApprovalStep, level int) workflow.ApprovalStep {
	for _, st := range steps {
		if st.Level == level {
			return st
		}
	}
	return workflow.ApprovalStep{}
}

func overLimitCount(items []workflow.ExpenseItem) int {
	n := 0
	for _, it := range items {
		if it.OverLimit {
			n++
		}
	}
	return n
}
