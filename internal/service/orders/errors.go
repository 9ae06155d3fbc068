package orders

import "errors"

var (
	ErrHoldNotFound   = errors.New("hold not found")
	ErrHoldExpired    = errors.New("hold expired")
	ErrHoldMismatch   = errors.New("hold does not match order request")
	ErrOrderNotFound  = errors.New("order not found")
	ErrOrderState     = errors.New("order state does not allow this transition")
	ErrTicketNotFound = errors.New("ticket not found")
	ErrTicketState    = errors.New("ticket state does not allow this transition")
)
