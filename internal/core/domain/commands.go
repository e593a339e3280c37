package domain

import "time"

type AddStockCommand struct {
	ProductID      string
	Location       string
	Quantity       int
	BatchID        string
	ExpirationDate *time.Time
	ProductionCode string
	Metadata       map[string]string
}

type ReserveStockCommand struct {
	ProductID      string
	Location       string
	Quantity       int
	OrderReference string
	RequestedBy    string
	TTL            time.Duration
}

type CancelReservationCommand struct {
	ReservationID string
	Reason        string
	CancelledBy   string
}

type FulfillReservationCommand struct {
	ReservationID     string
	FulfilledBy       string
	DispatchReference string
}

type AdjustStockCommand struct {
	ProductID  string
	Location   string
	Delta      int
	Reason     string
	AdjustedBy string
	Notes      string
}
