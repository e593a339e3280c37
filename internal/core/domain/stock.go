package domain

import "time"

// StockKey identifies one StockUnit and is the unit of locking: commands on
// distinct keys never contend with each other.
type StockKey struct {
	ProductID string
	Location  string
}

func (k StockKey) String() string {
	return k.ProductID + "@" + k.Location
}

type StockUnit struct {
	ProductID        string
	Location         string
	TotalQuantity    int
	ReservedQuantity int
	Version          int64 // bumped on every mutation
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (u StockUnit) Key() StockKey {
	return StockKey{ProductID: u.ProductID, Location: u.Location}
}

// AvailableQuantity is the quantity offerable to new reservations.
func (u StockUnit) AvailableQuantity() int {
	return u.TotalQuantity - u.ReservedQuantity
}

type Batch struct {
	BatchID        string
	ProductID      string
	Location       string
	Quantity       int
	ExpirationDate *time.Time
	ProductionCode string
	ReceivedAt     time.Time
}
