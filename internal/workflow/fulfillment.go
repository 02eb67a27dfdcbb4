package workflow

import (
	"fmt"
	"time"
)

// LineStatus is the derived pickup status of one order line.
type LineStatus string

const (
	LineUnfulfilled LineStatus = "unfulfilled"
	LinePartial     LineStatus = "partial"
	LineComplete    LineStatus = "complete"
)

// OrderStatus is the derived status of an order. Cancelled is the only
// status set explicitly.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

// OrderLine tracks committed and fulfilled quantity for one product.
type OrderLine struct {
	ID         string `json:"id"`
	SKU        string `json:"sku"`
	Name       string `json:"name,omitempty"`
	OrderedQty int    `json:"ordered_qty"`
	PickedQty  int    `json:"picked_qty"`
	Remark     string `json:"remark,omitempty"`
}

// Status derives the line status from its quantities.
func (l OrderLine) Status() LineStatus {
	switch {
	case l.PickedQty == 0:
		return LineUnfulfilled
	case l.PickedQty >= l.OrderedQty:
		return LineComplete
	default:
		return LinePartial
	}
}

// Remaining is the quantity still to be picked.
func (l OrderLine) Remaining() int {
	return l.OrderedQty - l.PickedQty
}

// RecordPick adds delta to the picked quantity. Picked quantity never
// decreases and never exceeds the ordered quantity; on error the line is
// returned unchanged.
func RecordPick(line OrderLine, delta int) (OrderLine, error) {
	if delta < 0 {
		return line, fmt.Errorf("%w: line %s delta %d", ErrNegativePick, line.ID, delta)
	}
	if delta > line.OrderedQty-line.PickedQty {
		return line, fmt.Errorf("%w: line %s has %d of %d, cannot add %d",
			ErrOverPick, line.ID, line.PickedQty, line.OrderedQty, delta)
	}
	line.PickedQty += delta
	return line, nil
}

// SetPicked records an absolute picked quantity as a delta.
func SetPicked(line OrderLine, picked int) (OrderLine, error) {
	if picked < line.PickedQty {
		return line, fmt.Errorf("%w: line %s has %d picked, cannot set %d", ErrNegativePick, line.ID, line.PickedQty, picked)
	}
	return RecordPick(line, picked-line.PickedQty)
}

// PickRemaining fills the line.
func PickRemaining(line OrderLine) (OrderLine, error) {
	return RecordPick(line, line.Remaining())
}

// AggregateOrder folds line quantities into the order status.
func AggregateOrder(lines []OrderLine) OrderStatus {
	complete, touched := 0, 0
	for _, l := range lines {
		if l.PickedQty > 0 {
			touched++
		}
		if l.Status() == LineComplete {
			complete++
		}
	}
	switch {
	case len(lines) > 0 && complete == len(lines):
		return OrderCompleted
	case touched > 0:
		return OrderProcessing
	default:
		return OrderPending
	}
}

// HasPicks reports whether any line has a recorded pick.
func HasPicks(lines []OrderLine) bool {
	for _, l := range lines {
		if l.PickedQty > 0 {
			return true
		}
	}
	return false
}

// Order is a sales order with pickup tracking.
type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customer_id"`
	StoreID    string      `json:"store_id"`
	PickupDate string      `json:"pickup_date,omitempty"`
	Remark     string      `json:"remark,omitempty"`
	Lines      []OrderLine `json:"lines"`
	Cancelled  bool        `json:"cancelled"`
	CreatedBy  string      `json:"created_by,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	Version    int64       `json:"version"`
}

// Status is cancelled when set explicitly, otherwise derived from the lines.
func (o *Order) Status() OrderStatus {
	if o.Cancelled {
		return OrderCancelled
	}
	return AggregateOrder(o.Lines)
}

// CanDelete reports whether the order may be structurally deleted: no line
// has ever been picked.
func (o *Order) CanDelete() bool {
	return !HasPicks(o.Lines)
}

// CanCancel applies the same gate as deletion, and a cancelled order cannot
// be cancelled again.
func (o *Order) CanCancel() bool {
	return !o.Cancelled && !HasPicks(o.Lines)
}

// ValidateLines checks the line invariants: non-empty, unique ids, positive
// ordered quantity and 0 <= picked <= ordered.
func ValidateLines(lines []OrderLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: order needs at least one line", ErrInvalidLine)
	}
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		if l.ID == "" {
			return fmt.Errorf("%w: line without id", ErrInvalidLine)
		}
		if seen[l.ID] {
			return fmt.Errorf("%w: duplicate line %s", ErrInvalidLine, l.ID)
		}
		seen[l.ID] = true
		if l.OrderedQty <= 0 {
			return fmt.Errorf("%w: line %s ordered quantity must be positive", ErrInvalidLine, l.ID)
		}
		if l.PickedQty < 0 || l.PickedQty > l.OrderedQty {
			return fmt.Errorf("%w: line %s picked %d of %d", ErrInvalidLine, l.ID, l.PickedQty, l.OrderedQty)
		}
	}
	return nil
}

func (o *Order) clone() *Order {
	next := *o
	next.Lines = make([]OrderLine, len(o.Lines))
	copy(next.Lines, o.Lines)
	return &next
}

func (o *Order) lineIndex(lineID string) (int, error) {
	for i := range o.Lines {
		if o.Lines[i].ID == lineID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrLineNotFound, lineID)
}

// Pick is a requested quantity change on one line.
type Pick struct {
	LineID string `json:"line_id"`
	Delta  int    `json:"delta"`
}

// RecordPick applies one pick and returns the updated order.
func (o *Order) RecordPick(lineID string, delta int) (*Order, error) {
	return o.RecordPicks([]Pick{{LineID: lineID, Delta: delta}})
}

// RecordPicks applies several picks atomically: either all succeed or the
// order is returned untouched with the first error.
func (o *Order) RecordPicks(picks []Pick) (*Order, error) {
	if o.Cancelled {
		return nil, ErrOrderCancelled
	}
	next := o.clone()
	for _, p := range picks {
		i, err := next.lineIndex(p.LineID)
		if err != nil {
			return nil, err
		}
		line, err := RecordPick(next.Lines[i], p.Delta)
		if err != nil {
			return nil, err
		}
		next.Lines[i] = line
	}
	return next, nil
}

// PickRemaining fills one line.
func (o *Order) PickRemaining(lineID string) (*Order, error) {
	i, err := o.lineIndex(lineID)
	if err != nil {
		return nil, err
	}
	return o.RecordPick(lineID, o.Lines[i].Remaining())
}

// SetPicked records an absolute picked quantity on one line. The quantity may
// not go below what is already picked.
func (o *Order) SetPicked(lineID string, picked int) (*Order, error) {
	i, err := o.lineIndex(lineID)
	if err != nil {
		return nil, err
	}
	if o.Cancelled {
		return nil, ErrOrderCancelled
	}
	line, err := SetPicked(o.Lines[i], picked)
	if err != nil {
		return nil, err
	}
	next := o.clone()
	next.Lines[i] = line
	return next, nil
}

// Cancel marks the order cancelled. Only orders without any pick qualify.
func (o *Order) Cancel() (*Order, error) {
	if o.Cancelled {
		return nil, ErrOrderCancelled
	}
	if HasPicks(o.Lines) {
		return nil, ErrPickRecorded
	}
	next := o.clone()
	next.Cancelled = true
	return next, nil
}

func (o *Order) assertEditable() error {
	if o.Status() != OrderPending {
		return fmt.Errorf("%w: status is %s", ErrOrderLocked, o.Status())
	}
	return nil
}

// AddLine appends a new unpicked line to a pending order.
func (o *Order) AddLine(line OrderLine) (*Order, error) {
	if err := o.assertEditable(); err != nil {
		return nil, err
	}
	line.PickedQty = 0
	next := o.clone()
	next.Lines = append(next.Lines, line)
	if err := ValidateLines(next.Lines); err != nil {
		return nil, err
	}
	return next, nil
}

// UpdateLineQty changes the ordered quantity of a line on a pending order.
func (o *Order) UpdateLineQty(lineID string, qty int) (*Order, error) {
	if err := o.assertEditable(); err != nil {
		return nil, err
	}
	i, err := o.lineIndex(lineID)
	if err != nil {
		return nil, err
	}
	next := o.clone()
	next.Lines[i].OrderedQty = qty
	if err := ValidateLines(next.Lines); err != nil {
		return nil, err
	}
	return next, nil
}

// RemoveLine drops a line from a pending order. The last line cannot be
// removed; delete the order instead.
func (o *Order) RemoveLine(lineID string) (*Order, error) {
	if err := o.assertEditable(); err != nil {
		return nil, err
	}
	i, err := o.lineIndex(lineID)
	if err != nil {
		return nil, err
	}
	if len(o.Lines) == 1 {
		return nil, fmt.Errorf("%w: order needs at least one line", ErrInvalidLine)
	}
	next := o.clone()
	next.Lines = append(next.Lines[:i], next.Lines[i+1:]...)
	return next, nil
}
