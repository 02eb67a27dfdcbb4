package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-workflow-engine/internal/database"
	"github.com/pesio-ai/be-workflow-engine/internal/errors"
	"github.com/pesio-ai/be-workflow-engine/internal/workflow"
)

// OrderFilter narrows List. Zero values mean no filter.
type OrderFilter struct {
	Status     string
	CustomerID string
	StoreID    string
	Limit      int
	Offset     int
}

// OrderRepository handles order and order line persistence.
type OrderRepository struct {
	db *database.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts an order at version 1 with its lines
func (r *OrderRepository) Create(ctx context.Context, order *workflow.Order) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO orders (id, customer_id, store_id, pickup_date, remark,
			                    cancelled, status, created_by, created_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
		`

		_, err := tx.Exec(ctx, query,
			order.ID,
			order.CustomerID,
			order.StoreID,
			nullString(order.PickupDate),
			order.Remark,
			order.Cancelled,
			string(order.Status()),
			order.CreatedBy,
			order.CreatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create order")
		}

		if err := r.upsertLines(ctx, tx, order); err != nil {
			return err
		}

		order.Version = 1
		return nil
	})
}

// GetByID retrieves an order with its lines in position order
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*workflow.Order, error) {
	query := `
		SELECT id, customer_id, store_id, pickup_date, remark,
		       cancelled, created_by, created_at, version
		FROM orders
		WHERE id = $1
	`

	order, err := r.scanOrder(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("order", id)
	}
	if err != nil {
		return nil, err
	}

	lines, err := r.GetLines(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return order, nil
}

// GetLines retrieves all lines for an order
func (r *OrderRepository) GetLines(ctx context.Context, orderID string) ([]workflow.OrderLine, error) {
	query := `
		SELECT id, sku, name, ordered_qty, picked_qty, remark
		FROM order_lines
		WHERE order_id = $1
		ORDER BY position
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get order lines")
	}
	defer rows.Close()

	lines := make([]workflow.OrderLine, 0)
	for rows.Next() {
		var line workflow.OrderLine
		err := rows.Scan(
			&line.ID,
			&line.SKU,
			&line.Name,
			&line.OrderedQty,
			&line.PickedQty,
			&line.Remark,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan order line")
		}
		lines = append(lines, line)
	}

	return lines, rows.Err()
}

// List returns a page of orders with their lines and the total matching count
func (r *OrderRepository) List(ctx context.Context, filter OrderFilter) ([]*workflow.Order, int64, error) {
	query := `
		SELECT id, customer_id, store_id, pickup_date, remark,
		       cancelled, created_by, created_at, version
		FROM orders
		WHERE 1 = 1
	`
	countQuery := `SELECT COUNT(*) FROM orders WHERE 1 = 1`

	args := []any{}
	argCount := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		countQuery += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
		argCount++
	}

	if filter.CustomerID != "" {
		query += fmt.Sprintf(" AND customer_id = $%d", argCount)
		countQuery += fmt.Sprintf(" AND customer_id = $%d", argCount)
		args = append(args, filter.CustomerID)
		argCount++
	}

	if filter.StoreID != "" {
		query += fmt.Sprintf(" AND store_id = $%d", argCount)
		countQuery += fmt.Sprintf(" AND store_id = $%d", argCount)
		args = append(args, filter.StoreID)
		argCount++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC, id"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)

	queryArgs := append(append([]any{}, args...), limit, filter.Offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count orders")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list orders")
	}
	defer rows.Close()

	orders := make([]*workflow.Order, 0)
	byID := make(map[string]*workflow.Order)
	for rows.Next() {
		order, err := r.scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
		byID[order.ID] = order
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list orders")
	}
	rows.Close()

	if len(orders) == 0 {
		return orders, total, nil
	}
	if err := r.attachLines(ctx, byID); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *OrderRepository) attachLines(ctx context.Context, byID map[string]*workflow.Order) error {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	query := `
		SELECT order_id, id, sku, name, ordered_qty, picked_qty, remark
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to get order lines")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			line    workflow.OrderLine
		)
		if err := rows.Scan(&orderID, &line.ID, &line.SKU, &line.Name, &line.OrderedQty, &line.PickedQty, &line.Remark); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan order line")
		}
		if order, ok := byID[orderID]; ok {
			order.Lines = append(order.Lines, line)
		}
	}
	return rows.Err()
}

// Save writes the order when the stored version still equals
// expectedVersion. Lines missing from order are deleted; the rest are upserted.
func (r *OrderRepository) Save(ctx context.Context, order *workflow.Order, expectedVersion int64) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE orders
			SET pickup_date = $3,
			    remark      = $4,
			    cancelled   = $5,
			    status      = $6,
			    version     = version + 1,
			    updated_at  = NOW()
			WHERE id = $1 AND version = $2
			RETURNING version
		`

		var newVersion int64
		err := tx.QueryRow(ctx, query,
			order.ID,
			expectedVersion,
			nullString(order.PickupDate),
			order.Remark,
			order.Cancelled,
			string(order.Status()),
		).Scan(&newVersion)
		if err == pgx.ErrNoRows {
			return r.missingOrStale(ctx, tx, order.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update order")
		}

		ids := make([]string, len(order.Lines))
		for i, line := range order.Lines {
			ids[i] = line.ID
		}
		if _, err := tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id = $1 AND NOT (id = ANY($2))`, order.ID, ids); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to remove order lines")
		}

		if err := r.upsertLines(ctx, tx, order); err != nil {
			return err
		}

		order.Version = newVersion
		return nil
	})
}

// Delete removes an order that has never been picked. A stale version is a
// conflict, as is an order with recorded picks.
func (r *OrderRepository) Delete(ctx context.Context, id string, expectedVersion int64) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			DELETE FROM orders
			WHERE id = $1 AND version = $2
			  AND NOT EXISTS (
			      SELECT 1 FROM order_lines WHERE order_id = $1 AND picked_qty > 0
			  )
		`

		tag, err := tx.Exec(ctx, query, id, expectedVersion)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete order")
		}
		if tag.RowsAffected() == 0 {
			return r.missingOrStale(ctx, tx, id)
		}
		return nil
	})
}

func (r *OrderRepository) upsertLines(ctx context.Context, tx pgx.Tx, order *workflow.Order) error {
	query := `
		INSERT INTO order_lines (id, order_id, position, sku, name,
		                         ordered_qty, picked_qty, remark)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET position    = EXCLUDED.position,
		    sku         = EXCLUDED.sku,
		    name        = EXCLUDED.name,
		    ordered_qty = EXCLUDED.ordered_qty,
		    picked_qty  = EXCLUDED.picked_qty,
		    remark      = EXCLUDED.remark
		WHERE order_lines.order_id = EXCLUDED.order_id
	`

	for i, line := range order.Lines {
		tag, err := tx.Exec(ctx, query,
			line.ID,
			order.ID,
			i+1,
			line.SKU,
			line.Name,
			line.OrderedQty,
			line.PickedQty,
			line.Remark,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to write order line")
		}
		if tag.RowsAffected() == 0 {
			return errors.Conflict(fmt.Sprintf("order line %s belongs to another order", line.ID))
		}
	}
	return nil
}

func (r *OrderRepository) missingOrStale(ctx context.Context, tx pgx.Tx, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to check order")
	}
	if !exists {
		return errors.NotFound("order", id)
	}
	return errors.Conflict("order was modified concurrently")
}

func (r *OrderRepository) scanOrder(sc rowScanner) (*workflow.Order, error) {
	order := &workflow.Order{}
	var pickupDate *string

	err := sc.Scan(
		&order.ID,
		&order.CustomerID,
		&order.StoreID,
		&pickupDate,
		&order.Remark,
		&order.Cancelled,
		&order.CreatedBy,
		&order.CreatedAt,
		&order.Version,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan order")
	}
	if pickupDate != nil {
		order.PickupDate = *pickupDate
	}
	return order, nil
}
