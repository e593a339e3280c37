package domain

import "time"

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// Terminal reports whether no further transition is permitted from s.
func (s ReservationStatus) Terminal() bool {
	return s != ReservationActive
}

type Reservation struct {
	ReservationID  string
	ProductID      string
	Location       string
	Quantity       int
	OrderReference string
	RequestedBy    string
	Status         ReservationStatus
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	UpdatedAt      time.Time
}

func (r Reservation) Key() StockKey {
	return StockKey{ProductID: r.ProductID, Location: r.Location}
}
