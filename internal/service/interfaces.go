package service

import (
	"context"

	"github.com/pesio-ai/be-workflow-engine/internal/client"
	"github.com/pesio-ai/be-workflow-engine/internal/repository"
	"github.com/pesio-ai/be-workflow-engine/internal/workflow"
)

// RequestStore persists approval requests. Implemented by
// repository.ApprovalRequestRepository and repository.MemoryRequestRepository.
type RequestStore interface {
	Create(ctx context.Context, req *workflow.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*workflow.ApprovalRequest, error)
	// SaveSteps fails with CONFLICT when the stored version is no longer
	// expectedVersion.
	SaveSteps(ctx context.Context, req *workflow.ApprovalRequest, expectedVersion int64) error
	ListPendingForRole(ctx context.Context, role workflow.Role) ([]*workflow.ApprovalRequest, error)
	CountByStatus(ctx context.Context) (repository.StatusCounts, error)
}

// OrderStore persists orders. Implemented by repository.OrderRepository and
// repository.MemoryOrderRepository.
type OrderStore interface {
	Create(ctx context.Context, order *workflow.Order) error
	GetByID(ctx context.Context, id string) (*workflow.Order, error)
	List(ctx context.Context, filter repository.OrderFilter) ([]*workflow.Order, int64, error)
	Save(ctx context.Context, order *workflow.Order, expectedVersion int64) error
	Delete(ctx context.Context, id string, expectedVersion int64) error
}

// AuditStore appends and reads audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*repository.AuditEntry, error)
}

// Notifier publishes workflow events. Publishing is fire-and-forget.
type Notifier interface {
	Publish(ctx context.Context, event client.NotificationEvent)
}
