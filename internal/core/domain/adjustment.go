package domain

import "time"

// Adjustment is an append-only audit record. Corrections are made by writing
// a new adjustment with the opposite delta, never by editing an existing one.
type Adjustment struct {
	AdjustmentID     string
	ProductID        string
	Location         string
	Delta            int
	Reason           string
	AdjustedBy       string
	Notes            string
	PreviousQuantity int
	NewQuantity      int
	CreatedAt        time.Time
}
