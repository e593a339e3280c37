package domain

import "errors"

var (
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrReservationNotFound    = errors.New("reservation not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidAdjustment      = errors.New("invalid adjustment")
	ErrBatchNotFound          = errors.New("batch not found")
)
