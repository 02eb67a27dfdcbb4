package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/pesio-ai/be-workflow-engine/internal/errors"
	"github.com/pesio-ai/be-workflow-engine/internal/workflow"
)

// MemoryStore keeps requests, orders and audit entries in process. It honours
// the same version checks as the postgres repositories and is used for the
// "memory" store backend and in tests.
type MemoryStore struct {
	Requests *MemoryRequestRepository
	Orders   *MemoryOrderRepository
	Audit    *MemoryAuditRepository
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Requests: &MemoryRequestRepository{requests: map[string]*workflow.ApprovalRequest{}},
		Orders:   &MemoryOrderRepository{orders: map[string]*workflow.Order{}},
		Audit:    &MemoryAuditRepository{},
	}
}

// ── approval requests ─────────────────────────────────────────────────────────

// MemoryRequestRepository is the in-memory ApprovalRequestRepository.
type MemoryRequestRepository struct {
	mu       sync.RWMutex
	requests map[string]*workflow.ApprovalRequest
}

func (r *MemoryRequestRepository) Create(_ context.Context, req *workflow.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[req.ID]; ok {
		return errors.Conflict(fmt.Sprintf("approval request %s already exists", req.ID))
	}
	req.Version = 1
	r.requests[req.ID] = cloneRequest(req)
	return nil
}

func (r *MemoryRequestRepository) GetByID(_ context.Context, id string) (*workflow.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, errors.NotFound("approval_request", id)
	}
	return cloneRequest(req), nil
}

func (r *MemoryRequestRepository) SaveSteps(_ context.Context, req *workflow.ApprovalRequest, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.requests[req.ID]
	if !ok {
		return errors.NotFound("approval_request", req.ID)
	}
	if stored.Version != expectedVersion {
		return errors.Conflict("approval request was modified concurrently")
	}
	next := cloneRequest(stored)
	next.Steps = slices.Clone(req.Steps)
	next.Version = expectedVersion + 1
	r.requests[req.ID] = next
	req.Version = next.Version
	return nil
}

func (r *MemoryRequestRepository) ListPendingForRole(_ context.Context, role workflow.Role) ([]*workflow.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*workflow.ApprovalRequest
	for _, req := range r.requests {
		if _, ok := workflow.ActionableBy(req.Steps, role); ok {
			out = append(out, cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

func (r *MemoryRequestRepository) CountByStatus(_ context.Context) (StatusCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := StatusCounts{}
	for _, req := range r.requests {
		counts[string(req.Status())]++
	}
	return counts, nil
}

func cloneRequest(req *workflow.ApprovalRequest) *workflow.ApprovalRequest {
	c := *req
	c.Items = slices.Clone(req.Items)
	c.Steps = make([]workflow.ApprovalStep, len(req.Steps))
	for i, s := range req.Steps {
		if s.DecidedAt != nil {
			t := *s.DecidedAt
			s.DecidedAt = &t
		}
		c.Steps[i] = s
	}
	return &c
}

// ── orders ────────────────────────────────────────────────────────────────────

// MemoryOrderRepository is the in-memory OrderRepository.
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*workflow.Order
}

func (r *MemoryOrderRepository) Create(_ context.Context, order *workflow.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.ID]; ok {
		return errors.Conflict(fmt.Sprintf("order %s already exists", order.ID))
	}
	order.Version = 1
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *MemoryOrderRepository) GetByID(_ context.Context, id string) (*workflow.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, errors.NotFound("order", id)
	}
	return cloneOrder(order), nil
}

func (r *MemoryOrderRepository) List(_ context.Context, filter OrderFilter) ([]*workflow.Order, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*workflow.Order
	for _, order := range r.orders {
		if filter.Status != "" && string(order.Status()) != filter.Status {
			continue
		}
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if filter.StoreID != "" && order.StoreID != filter.StoreID {
			continue
		}
		matched = append(matched, order)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	start := min(filter.Offset, len(matched))
	end := min(start+limit, len(matched))

	out := make([]*workflow.Order, 0, end-start)
	for _, order := range matched[start:end] {
		out = append(out, cloneOrder(order))
	}
	return out, total, nil
}

func (r *MemoryOrderRepository) Save(_ context.Context, order *workflow.Order, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	if !ok {
		return errors.NotFound("order", order.ID)
	}
	if stored.Version != expectedVersion {
		return errors.Conflict("order was modified concurrently")
	}
	next := cloneOrder(order)
	next.Version = expectedVersion + 1
	r.orders[order.ID] = next
	order.Version = next.Version
	return nil
}

func (r *MemoryOrderRepository) Delete(_ context.Context, id string, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[id]
	if !ok {
		return errors.NotFound("order", id)
	}
	if stored.Version != expectedVersion || !stored.CanDelete() {
		return errors.Conflict("order was modified concurrently")
	}
	delete(r.orders, id)
	return nil
}

func cloneOrder(order *workflow.Order) *workflow.Order {
	c := *order
	c.Lines = slices.Clone(order.Lines)
	return &c
}

// ── audit ─────────────────────────────────────────────────────────────────────

// MemoryAuditRepository is the in-memory AuditRepository.
type MemoryAuditRepository struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

func (r *MemoryAuditRepository) Append(_ context.Context, entry *AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}
	c := *entry
	c.Metadata = maps.Clone(entry.Metadata)
	r.entries = append(r.entries, &c)
	return nil
}

func (r *MemoryAuditRepository) ListByEntity(_ context.Context, entityType, entityID string) ([]*AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*AuditEntry
	for _, e := range r.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			c := *e
			c.Metadata = maps.Clone(e.Metadata)
			out = append(out, &c)
		}
	}
	return out, nil
}
