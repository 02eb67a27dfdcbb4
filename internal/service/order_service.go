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

// OrderService handles order creation, pickup tracking and editing.
type OrderService struct {
	base
	orders   OrderStore
	notifier Notifier
}

// NewOrderService creates a new order service
func NewOrderService(
	orders OrderStore,
	audit AuditStore,
	locker lock.Locker,
	notifier Notifier,
	m *metrics.Metrics,
	log *logger.Logger,
) *OrderService {
	return &OrderService{
		base:     newBase(audit, locker, m, log),
		orders:   orders,
		notifier: notifier,
	}
}

// CreateOrderRequest represents a create order request
type CreateOrderRequest struct {
	CustomerID string
	StoreID    string
	PickupDate string
	Remark     string
	CreatedBy  string
	Lines      []OrderLineRequest
}

// OrderLineRequest represents an order line request
type OrderLineRequest struct {
	SKU        string
	Name       string
	OrderedQty int
	Remark     string
}

// Create creates an order with nothing picked yet
func (s *OrderService) Create(ctx context.Context, in CreateOrderRequest) (*workflow.Order, error) {
	if in.CustomerID == "" {
		return nil, errors.InvalidInput("customer_id", "customer is required")
	}
	if in.StoreID == "" {
		return nil, errors.InvalidInput("store_id", "store is required")
	}

	order := &workflow.Order{
		ID:         s.newID(),
		CustomerID: in.CustomerID,
		StoreID:    in.StoreID,
		PickupDate: in.PickupDate,
		Remark:     in.Remark,
		CreatedBy:  in.CreatedBy,
		CreatedAt:  s.now(),
		Lines:      make([]workflow.OrderLine, 0, len(in.Lines)),
	}
	for _, l := range in.Lines {
		order.Lines = append(order.Lines, s.newLine(l))
	}
	if err := workflow.ValidateLines(order.Lines); err != nil {
		return nil, errors.FromDomain(err)
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		EntityType:  repository.EntityOrder,
		EntityID:    order.ID,
		Action:      repository.ActionCreated,
		PerformedBy: in.CreatedBy,
		StatusAfter: strPtr(string(order.Status())),
		Metadata: map[string]any{
			"customer_id": order.CustomerID,
			"store_id":    order.StoreID,
			"lines":       len(order.Lines),
		},
	})

	s.log.Info().
		Str("order_id", order.ID).
		Str("customer_id", order.CustomerID).
		Int("lines", len(order.Lines)).
		Msg("Order created")

	return order, nil
}

func (s *OrderService) newLine(l OrderLineRequest) workflow.OrderLine {
	return workflow.OrderLine{
		ID:         s.newID(),
		SKU:        l.SKU,
		Name:       l.Name,
		OrderedQty: l.OrderedQty,
		Remark:     l.Remark,
	}
}

// Get retrieves an order by ID
func (s *OrderService) Get(ctx context.Context, id string) (*workflow.Order, error) {
	return s.orders.GetByID(ctx, id)
}

// List lists orders matching filter
func (s *OrderService) List(ctx context.Context, filter repository.OrderFilter) ([]*workflow.Order, int64, error) {
	if filter.Status != "" {
		switch workflow.OrderStatus(filter.Status) {
		case workflow.OrderPending, workflow.OrderProcessing, workflow.OrderCompleted, workflow.OrderCancelled:
		default:
			return nil, 0, errors.InvalidInput("status", fmt.Sprintf("unknown order status %q", filter.Status))
		}
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.orders.List(ctx, filter)
}

// ── Pickup ────────────────────────────────────────────────────────────────────

// RecordPicks applies a batch of picks atomically: either every delta is
// recorded or none is.
func (s *OrderService) RecordPicks(ctx context.Context, orderID string, picks []workflow.Pick, actor string) (*workflow.Order, error) {
	if len(picks) == 0 {
		return nil, errors.InvalidInput("picks", "at least one pick is required")
	}
	next, err := s.mutate(ctx, orderID, actor, repository.ActionPicked,
		map[string]any{"picks": picksMetadata(picks)},
		func(o *workflow.Order) (*workflow.Order, error) {
			return o.RecordPicks(picks)
		})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		// Deltas are bounded by the remaining quantity once the engine accepts them.
		units := 0
		for _, p := range picks {
			units += p.Delta
		}
		s.metrics.RecordPicked(units)
	}
	return next, nil
}

// SetPicked sets a line's absolute picked quantity. The quantity may not go
// down.
func (s *OrderService) SetPicked(ctx context.Context, orderID, lineID string, picked int, actor string) (*workflow.Order, error) {
	var delta int
	next, err := s.mutate(ctx, orderID, actor, repository.ActionPicked,
		map[string]any{"line_id": lineID, "picked_qty": picked},
		func(o *workflow.Order) (*workflow.Order, error) {
			delta = pickedDelta(o, lineID, func(l workflow.OrderLine) int { return picked - l.PickedQty })
			return o.SetPicked(lineID, picked)
		})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordPicked(delta)
	}
	return next, nil
}

// PickRemaining marks a line as fully picked up.
func (s *OrderService) PickRemaining(ctx context.Context, orderID, lineID, actor string) (*workflow.Order, error) {
	var delta int
	next, err := s.mutate(ctx, orderID, actor, repository.ActionPicked,
		map[string]any{"line_id": lineID, "remaining": true},
		func(o *workflow.Order) (*workflow.Order, error) {
			delta = pickedDelta(o, lineID, workflow.OrderLine.Remaining)
			return o.PickRemaining(lineID)
		})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordPicked(delta)
	}
	return next, nil
}

// ── Cancel / delete ───────────────────────────────────────────────────────────

// Cancel cancels an order that has never been picked.
func (s *OrderService) Cancel(ctx context.Context, orderID, actor string) (*workflow.Order, error) {
	return s.mutate(ctx, orderID, actor, repository.ActionCancelled, nil,
		func(o *workflow.Order) (*workflow.Order, error) {
			return o.Cancel()
		})
}

// Delete removes an order that has never been picked.
func (s *OrderService) Delete(ctx context.Context, orderID, actor string) error {
	release, err := s.acquire(ctx, repository.EntityOrder, orderID)
	if err != nil {
		return err
	}
	defer release()

	current, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !current.CanDelete() {
		return errors.FromDomain(fmt.Errorf("%w: order %s cannot be deleted", workflow.ErrPickRecorded, orderID))
	}

	if err := s.orders.Delete(ctx, orderID, current.Version); err != nil {
		s.conflict(repository.EntityOrder, err)
		return err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		EntityType:   repository.EntityOrder,
		EntityID:     orderID,
		Action:       repository.ActionDeleted,
		PerformedBy:  actor,
		StatusBefore: strPtr(string(current.Status())),
	})

	s.log.Info().Str("order_id", orderID).Msg("Order deleted")
	return nil
}

// ── Editing ───────────────────────────────────────────────────────────────────

// AddLine appends a line to a pending order.
func (s *OrderService) AddLine(ctx context.Context, orderID string, in OrderLineRequest, actor string) (*workflow.Order, error) {
	line := s.newLine(in)
	return s.mutate(ctx, orderID, actor, repository.ActionLineAdded,
		map[string]any{"line_id": line.ID, "sku": line.SKU, "ordered_qty": line.OrderedQty},
		func(o *workflow.Order) (*workflow.Order, error) {
			return o.AddLine(line)
		})
}

// UpdateLineQty changes a line's ordered quantity on a pending order.
func (s *OrderService) UpdateLineQty(ctx context.Context, orderID, lineID string, qty int, actor string) (*workflow.Order, error) {
	return s.mutate(ctx, orderID, actor, repository.ActionLineUpdated,
		map[string]any{"line_id": lineID, "ordered_qty": qty},
		func(o *workflow.Order) (*workflow.Order, error) {
			return o.UpdateLineQty(lineID, qty)
		})
}

// RemoveLine drops a line from a pending order.
func (s *OrderService) RemoveLine(ctx context.Context, orderID, lineID, actor string) (*workflow.Order, error) {
	return s.mutate(ctx, orderID, actor, repository.ActionLineRemoved,
		map[string]any{"line_id": lineID},
		func(o *workflow.Order) (*workflow.Order, error) {
			return o.RemoveLine(lineID)
		})
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// mutate runs fn against the latest snapshot under the order lock and saves
// the result against the version it was read at.
func (s *OrderService) mutate(
	ctx context.Context,
	orderID, actor, action string,
	metadata map[string]any,
	fn func(*workflow.Order) (*workflow.Order, error),
) (*workflow.Order, error) {
	release, err := s.acquire(ctx, repository.EntityOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, errors.FromDomain(err)
	}

	if err := s.orders.Save(ctx, next, current.Version); err != nil {
		s.conflict(repository.EntityOrder, err)
		return nil, err
	}

	before, after := current.Status(), next.Status()
	s.appendAudit(ctx, &repository.AuditEntry{
		EntityType:   repository.EntityOrder,
		EntityID:     orderID,
		Action:       action,
		PerformedBy:  actor,
		StatusBefore: strPtr(string(before)),
		StatusAfter:  strPtr(string(after)),
		Metadata:     metadata,
	})

	if s.metrics != nil {
		s.metrics.RecordOrderTransition(string(before), string(after))
	}
	s.notify(ctx, action, before, next, actor)

	s.log.Info().
		Str("order_id", orderID).
		Str("action", action).
		Str("status", string(after)).
		Int64("version", next.Version).
		Msg("Order updated")

	return next, nil
}

func (s *OrderService) notify(ctx context.Context, action string, before workflow.OrderStatus, order *workflow.Order, actor string) {
	if s.notifier == nil {
		return
	}
	var events []string
	switch action {
	case repository.ActionPicked:
		events = append(events, client.EventOrderPicked)
		if before != workflow.OrderCompleted && order.Status() == workflow.OrderCompleted {
			events = append(events, client.EventOrderCompleted)
		}
	case repository.ActionCancelled:
		events = append(events, client.EventOrderCancelled)
	}

	for _, ev := range events {
		s.notifier.Publish(ctx, client.NotificationEvent{
			EventType:    ev,
			ActorID:      actor,
			Recipients:   []string{order.CustomerID},
			ResourceType: repository.EntityOrder,
			ResourceID:   order.ID,
			Payload: map[string]any{
				"store_id": order.StoreID,
				"status":   string(order.Status()),
			},
		})
	}
}

func pickedDelta(o *workflow.Order, lineID string, fn func(workflow.OrderLine) int) int {
	for _, l := range o.Lines {
		if l.ID == lineID {
			return fn(l)
		}
	}
	return 0
}

func picksMetadata(picks []workflow.Pick) []map[string]any {
	out := make([]map[string]any, len(picks))
	for i, p := range picks {
		out[i] = map[string]any{"line_id": p.LineID, "delta": p.Delta}
	}
	return out
}
