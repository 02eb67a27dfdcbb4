package service

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-workflow-engine/internal/client"
	"github.com/pesio-ai/be-workflow-engine/internal/errors"
	"github.com/pesio-ai/be-workflow-engine/internal/logger"
	"github.com/pesio-ai/be-workflow-engine/internal/repository"
	"github.com/pesio-ai/be-workflow-engine/internal/workflow"
)

func submitEntertainment(t *testing.T, f *fixture, amount int64) *workflow.ApprovalRequest {
	t.Helper()
	req, err := f.approvals.Submit(context.Background(), SubmitExpenseRequest{
		SubmittedBy: "emp-1",
		Purpose:     "client dinner",
		Items:       []workflow.ExpenseItem{{Category: "6105501", Amount: amount, HasReceipt: true}},
	})
	require.NoError(t, err)
	return req
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)

	req := submitEntertainment(t, f, 75000)

	assert.Equal(t, "EXP-1", req.ID)
	assert.Equal(t, int64(75000), req.Magnitude)
	assert.Equal(t, int64(1), req.Version)
	assert.Equal(t, workflow.RequestPending, req.Status())
	roles := make([]workflow.Role, len(req.Steps))
	for i, s := range req.Steps {
		roles[i] = s.ApproverRole
	}
	assert.Equal(t, []workflow.Role{workflow.RoleSupervisor, workflow.RoleDepartmentHead, workflow.RoleFinanceLead}, roles)

	assert.Equal(t, []string{client.EventApprovalSubmitted, client.EventApprovalRequired}, f.notifier.types())
	assert.Equal(t, []string{"supervisor", "manager"}, f.notifier.events[1].Recipients)

	history, err := f.approvals.History(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, repository.ActionSubmitted, history[0].Action)
	assert.Equal(t, "pending", *history[0].StatusAfter)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsSubmitted.WithLabelValues("test", "6105501", "3")))
}

func TestSubmitFlagsItemsOverLimit(t *testing.T) {
	f := newFixture(t)

	req, err := f.approvals.Submit(context.Background(), SubmitExpenseRequest{
		SubmittedBy: "emp-1",
		Items: []workflow.ExpenseItem{
			{Category: "5503101", Amount: 35000},
			{Category: "6105501", Amount: 1000},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "5503101", req.Category)
	assert.Equal(t, int64(36000), req.Magnitude)
	assert.True(t, req.Items[0].OverLimit)
	assert.False(t, req.Items[1].OverLimit)
	// Limits only warn: 36k routes to the supervisor alone.
	assert.Len(t, req.Steps, 1)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   SubmitExpenseRequest
		code string
	}{
		{"Missing submitter", SubmitExpenseRequest{Items: []workflow.ExpenseItem{{Category: "5503101", Amount: 1}}}, errors.ErrCodeInvalidInput},
		{"No items", SubmitExpenseRequest{SubmittedBy: "emp-1"}, errors.ErrCodeInvalidInput},
		{"Negative amount", SubmitExpenseRequest{SubmittedBy: "emp-1", Items: []workflow.ExpenseItem{{Category: "5503101", Amount: -5}}}, errors.ErrCodeInvalidInput},
		{"Total overflows", SubmitExpenseRequest{SubmittedBy: "emp-1", Items: []workflow.ExpenseItem{{Category: "6105501", Amount: math.MaxInt64}, {Category: "6105501", Amount: 1}}}, errors.ErrCodeInvalidInput},
		{"Unknown category", SubmitExpenseRequest{SubmittedBy: "emp-1", Items: []workflow.ExpenseItem{{Category: "0000000", Amount: 5}}}, errors.ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.approvals.Submit(ctx, tt.in)
			assert.Equal(t, tt.code, errors.Code(err))
		})
	}
	assert.Empty(t, f.notifier.types())

	summary, err := f.approvals.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
}

func TestDecideFullTrail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := submitEntertainment(t, f, 75000)
	f.notifier.reset()

	// Finance lead cannot jump the queue.
	_, err := f.approvals.Decide(ctx, DecideRequest{RequestID: req.ID, Level: 3, ActorID: "fin-1", ActorRole: "finance", Decision: "approved"})
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))
	assert.ErrorIs(t, err, workflow.ErrNotYourTurn)

	got, err := f.approvals.Decide(ctx, DecideRequest{RequestID: req.ID, ActorID: "mgr-1", ActorRole: "manager", Decision: "approved"})
	require.NoError(t, err)
	assert.Equal(t, workflow.RequestReviewing, got.Status())
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "approved", got.Steps[0].Comment)

	got, err = f.approvals.Decide(ctx, DecideRequest{RequestID: req.ID, ActorID: "adm-1", ActorRole: "department_head", Decision: "approved", Comment: "ok"})
	require.NoError(t, err)
	assert.Equal(t, workflow.RequestReviewing, got.Status())

	got, err = f.approvals.Decide(ctx, DecideRequest{RequestID: req.ID, ActorID: "fin-1", ActorRole: "finance", Decision: "approved"})
	require.NoError(t, err)
	assert.Equal(t, workflow.RequestApproved, got.Status())
	assert.Equal(t, int64(4), got.Version)

	assert.Equal(t, []string{
		client.EventApprovalRequired,
		client.EventApprovalRequired,
		client.EventApprovalApproved,
	}, f.notifier.types())

	history, err := f.approvals.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "reviewing", *history[3].StatusBefore)
	assert.Equal(t, "approved", *history[3].StatusAfter)

	_, err = f.approvals.Decide(ctx, DecideRequest{RequestID: req.ID, ActorID: "mgr-1", ActorRole: "manager", Decision: "rejected"})
	assert.ErrorIs(t, err, workflow.ErrAlreadyDecided)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsFinalized.WithLabelValues("test", "approved")))
}

func TestDecideRejectClosesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := submitEntertainment(t, f, 75000)

	got, err := f.approvals.Decide(ctx, DecideRequest{RequestID: req.ID, ActorID: "mgr-1", ActorRole: "supervisor", Decision: "rejected", Comment: "no receipt"})
	require.NoError(t, err)
	assert.Equal(t, workflow.RequestRejected, got.Status())
	assert.Equal(t, "no receipt", got.Steps[0].Comment)

	_, err = f.approvals.Decide(ctx, DecideRequest{RequestID: req.ID, ActorID: "adm-1", ActorRole: "admin", Decision: "approved"})
	assert.ErrorIs(t, err, workflow.ErrRequestClosed)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))

	_, err = f.approvals.Decide(ctx, DecideRequest{RequestID: req.ID, ActorID: "ceo-1", ActorRole: "ceo", Decision: "approved"})
	assert.ErrorIs(t, err, workflow.ErrRequestClosed)
}

func TestDecideErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := submitEntertainment(t, f, 1000)

	tests := []struct {
		name string
		in   DecideRequest
		code string
		is   error
	}{
		{"Unknown request", DecideRequest{RequestID: "nope", ActorID: "a", ActorRole: "manager", Decision: "approved"}, errors.ErrCodeNotFound, nil},
		{"Bad decision", DecideRequest{RequestID: req.ID, ActorID: "a", ActorRole: "manager", Decision: "maybe"}, errors.ErrCodeInvalidInput, workflow.ErrInvalidDecision},
		{"Pending is not a decision", DecideRequest{RequestID: req.ID, ActorID: "a", ActorRole: "manager", Decision: "pending"}, errors.ErrCodeInvalidInput, workflow.ErrInvalidDecision},
		{"Missing actor", DecideRequest{RequestID: req.ID, ActorRole: "manager", Decision: "approved"}, errors.ErrCodeInvalidInput, nil},
		{"Role without a step", DecideRequest{RequestID: req.ID, ActorID: "a", ActorRole: "hr", Decision: "approved"}, errors.ErrCodeForbidden, workflow.ErrWrongRole},
		{"Unmapped role", DecideRequest{RequestID: req.ID, ActorID: "a", ActorRole: "employee", Decision: "approved"}, errors.ErrCodeForbidden, workflow.ErrWrongRole},
		{"Wrong role for explicit level", DecideRequest{RequestID: req.ID, Level: 1, ActorID: "a", ActorRole: "ceo", Decision: "approved"}, errors.ErrCodeForbidden, workflow.ErrWrongRole},
		{"Level out of range", DecideRequest{RequestID: req.ID, Level: 7, ActorID: "a", ActorRole: "manager", Decision: "approved"}, errors.ErrCodeNotFound, workflow.ErrStepNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.approvals.Decide(ctx, tt.in)
			assert.Equal(t, tt.code, errors.Code(err))
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}

	stored, err := f.approvals.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version, "failed decisions never write")
}

func TestDecideConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := submitEntertainment(t, f, 1000)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		decisions []string
	)
	for i := 0; i < callers; i++ {
		decision := "approved"
		if i%2 == 1 {
			decision = "rejected"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.approvals.Decide(ctx, DecideRequest{RequestID: req.ID, ActorID: "mgr", ActorRole: "manager", Decision: decision})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				decisions = append(decisions, string(got.Status()))
				return
			}
			assert.ErrorIs(t, err, workflow.ErrAlreadyDecided)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	stored, err := f.approvals.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, decisions[0], string(stored.Status()))
}

func TestQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	small := submitEntertainment(t, f, 1000)
	big := submitEntertainment(t, f, 75000)

	queue, err := f.approvals.Queue(ctx, "manager")
	require.NoError(t, err)
	assert.Len(t, queue, 2)

	queue, err = f.approvals.Queue(ctx, "finance_lead")
	require.NoError(t, err)
	assert.Empty(t, queue)

	_, err = f.approvals.Decide(ctx, DecideRequest{RequestID: big.ID, ActorID: "mgr", ActorRole: "manager", Decision: "approved"})
	require.NoError(t, err)

	queue, err = f.approvals.Queue(ctx, "admin")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, big.ID, queue[0].ID)

	queue, err = f.approvals.Queue(ctx, "manager")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, small.ID, queue[0].ID)

	queue, err = f.approvals.Queue(ctx, "employee")
	require.NoError(t, err)
	assert.NotNil(t, queue)
	assert.Empty(t, queue)
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.approvals.Submit(ctx, SubmitExpenseRequest{
		SubmittedBy: "emp-2",
		Items:       []workflow.ExpenseItem{{Category: "5503101", Amount: 800}},
	})
	require.NoError(t, err)
	b := submitEntertainment(t, f, 75000)
	submitEntertainment(t, f, 2000)

	_, err = f.approvals.Decide(ctx, DecideRequest{RequestID: a.ID, ActorID: "m", ActorRole: "manager", Decision: "approved"})
	require.NoError(t, err)
	_, err = f.approvals.Decide(ctx, DecideRequest{RequestID: b.ID, ActorID: "m", ActorRole: "manager", Decision: "approved"})
	require.NoError(t, err)

	sum, err := f.approvals.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Pending: 1, Reviewing: 1, InProgress: 2, Approved: 1, Total: 3}, sum)
}

func TestCategories(t *testing.T) {
	f := newFixture(t)

	all, err := f.approvals.Categories("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	selling, err := f.approvals.Categories("selling")
	require.NoError(t, err)
	require.Len(t, selling, 1)
	assert.Equal(t, "6105501", selling[0].Code)

	_, err = f.approvals.Categories("travel")
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.Code(err))
}

func TestAuditFailureIsNotFatal(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewApprovalService(store.Requests, failingAudit{}, nil, nil,
		testPolicy(t), workflow.NewRoutePlanner(), nil, nil, logger.Nop())

	req, err := svc.Submit(context.Background(), SubmitExpenseRequest{
		SubmittedBy: "emp-1",
		Items:       []workflow.ExpenseItem{{Category: "5503101", Amount: 100}},
	})
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), DecideRequest{RequestID: req.ID, ActorID: "m", ActorRole: "manager", Decision: "approved"})
	require.NoError(t, err)
}
