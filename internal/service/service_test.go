package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-workflow-engine/internal/client"
	"github.com/pesio-ai/be-workflow-engine/internal/lock"
	"github.com/pesio-ai/be-workflow-engine/internal/logger"
	"github.com/pesio-ai/be-workflow-engine/internal/metrics"
	"github.com/pesio-ai/be-workflow-engine/internal/repository"
	"github.com/pesio-ai/be-workflow-engine/internal/workflow"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []client.NotificationEvent
}

func (n *recordingNotifier) Publish(_ context.Context, event client.NotificationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.EventType
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

type failingAudit struct{}

func (failingAudit) Append(context.Context, *repository.AuditEntry) error {
	return fmt.Errorf("audit store down")
}

func (failingAudit) ListByEntity(context.Context, string, string) ([]*repository.AuditEntry, error) {
	return nil, nil
}

func testPolicy(t *testing.T) *workflow.CategoryPolicy {
	t.Helper()
	p, err := workflow.NewCategoryPolicy([]workflow.CategoryRule{
		{Code: "5503101", Label: "Stationery and printing", Bucket: workflow.BucketManufacturingOverhead, SpendingLimit: 30000, MandatoryApprover: workflow.RoleSupervisor},
		{Code: "6105501", Label: "Entertainment", Bucket: workflow.BucketSelling, SpendingLimit: 80000, MandatoryApprover: workflow.RoleFinanceLead},
		{Code: "6201101", Label: "Admin salaries", Bucket: workflow.BucketAdmin, SpendingLimit: 400000, MandatoryApprover: workflow.RoleHRLead},
	})
	require.NoError(t, err)
	return p
}

// sequentialIDs returns a deterministic id generator: prefix-1, prefix-2, ...
func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

type fixture struct {
	store     *repository.MemoryStore
	notifier  *recordingNotifier
	metrics   *metrics.Metrics
	approvals *ApprovalService
	orders    *OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	notifier := &recordingNotifier{}
	m := metrics.New(metrics.DefaultConfig("test"))
	locker := lock.NewLocalLocker()

	approvals := NewApprovalService(store.Requests, store.Audit, locker, notifier,
		testPolicy(t), workflow.NewRoutePlanner(), client.NewRoleDirectory(nil), m, logger.Nop())
	approvals.now = func() time.Time { return testNow }
	approvals.newID = sequentialIDs("EXP")

	orders := NewOrderService(store.Orders, store.Audit, locker, notifier, m, logger.Nop())
	orders.now = func() time.Time { return testNow }
	orders.newID = sequentialIDs("ORD")

	return &fixture{
		store:     store,
		notifier:  notifier,
		metrics:   m,
		approvals: approvals,
		orders:    orders,
	}
}
