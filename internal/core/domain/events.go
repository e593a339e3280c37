package domain

import "time"

// Event is a typed fact published to other bounded contexts after a ledger
// mutation commits. Delivery is at-least-once; consumers must tolerate
// duplicates.
type Event interface {
	EventType() string
	// AggregateID keys the outbound message so that events for one product
	// stay ordered on the partition.
	AggregateID() string
}

type StockReceived struct {
	EventID   string    `json:"event_id"`
	ProductID string    `json:"product_id"`
	Location  string    `json:"location"`
	Quantity  int       `json:"quantity"`
	BatchID   string    `json:"batch_id,omitempty"`
	Occurred  time.Time `json:"occurred_at"`
}

func (e StockReceived) EventType() string   { return "StockReceived" }
func (e StockReceived) AggregateID() string { return e.ProductID }

type StockReserved struct {
	EventID        string     `json:"event_id"`
	ReservationID  string     `json:"reservation_id"`
	ProductID      string     `json:"product_id"`
	Location       string     `json:"location"`
	Quantity       int        `json:"quantity"`
	OrderReference string     `json:"order_reference"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Occurred       time.Time  `json:"occurred_at"`
}

func (e StockReserved) EventType() string   { return "StockReserved" }
func (e StockReserved) AggregateID() string { return e.ProductID }

type ReservationReleased struct {
	EventID       string    `json:"event_id"`
	ReservationID string    `json:"reservation_id"`
	ProductID     string    `json:"product_id"`
	Location      string    `json:"location"`
	Quantity      int       `json:"quantity"`
	Reason        string    `json:"reason"`
	Occurred      time.Time `json:"occurred_at"`
}

func (e ReservationReleased) EventType() string   { return "ReservationReleased" }
func (e ReservationReleased) AggregateID() string { return e.ProductID }

type StockDispatched struct {
	EventID           string    `json:"event_id"`
	DispatchID        string    `json:"dispatch_id"`
	ReservationID     string    `json:"reservation_id"`
	ProductID         string    `json:"product_id"`
	Location          string    `json:"location"`
	Quantity          int       `json:"quantity"`
	DispatchReference string    `json:"dispatch_reference,omitempty"`
	Occurred          time.Time `json:"occurred_at"`
}

func (e StockDispatched) EventType() string   { return "StockDispatched" }
func (e StockDispatched) AggregateID() string { return e.ProductID }

type StockAdjusted struct {
	EventID          string    `json:"event_id"`
	AdjustmentID     string    `json:"adjustment_id"`
	ProductID        string    `json:"product_id"`
	Location         string    `json:"location"`
	Delta            int       `json:"delta"`
	Reason           string    `json:"reason"`
	PreviousQuantity int       `json:"previous_quantity"`
	NewQuantity      int       `json:"new_quantity"`
	Occurred         time.Time `json:"occurred_at"`
}

func (e StockAdjusted) EventType() string   { return "StockAdjusted" }
func (e StockAdjusted) AggregateID() string { return e.ProductID }

type LowStockWarning struct {
	EventID           string    `json:"event_id"`
	ProductID         string    `json:"product_id"`
	Location          string    `json:"location"`
	AvailableQuantity int       `json:"available_quantity"`
	Threshold         int       `json:"threshold"`
	Occurred          time.Time `json:"occurred_at"`
}

func (e LowStockWarning) EventType() string   { return "LowStockWarning" }
func (e LowStockWarning) AggregateID() string { return e.ProductID }
