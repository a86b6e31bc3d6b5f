package order

import (
	"salesorder-system/internal/apperr"
	"salesorder-system/internal/database/models"
)

var validStatuses = map[models.OrderStatus]bool{
	models.OrderStatusPending:    true,
	models.OrderStatusConfirmed:  true,
	models.OrderStatusProcessing: true,
	models.OrderStatusShipped:    true,
	models.OrderStatusDelivered:  true,
	models.OrderStatusCancelled:  true,
}

func ValidStatus(s models.OrderStatus) bool {
	return validStatuses[s]
}

// IsTerminal reports whether no further transitions are allowed out of s.
func IsTerminal(s models.OrderStatus) bool {
	return s == models.OrderStatusDelivered || s == models.OrderStatusCancelled
}

// CheckTransition validates a status change. Direct sets between forward
// states are allowed without adjacency; terminal states accept nothing.
// CANCELLED is reachable from every state except DELIVERED and carries
// compensating ledger actions, so callers must route it through Cancel.
func CheckTransition(from, to models.OrderStatus) error {
	if !ValidStatus(to) {
		return apperr.New(apperr.KindValidation,
			"Status must be one of: PENDING, CONFIRMED, PROCESSING, SHIPPED, DELIVERED, CANCELLED")
	}
	if from == models.OrderStatusDelivered {
		if to == models.OrderStatusCancelled {
			return apperr.New(apperr.KindValidation, "Cannot cancel delivered orders")
		}
		return apperr.New(apperr.KindValidation, "Order is already delivered")
	}
	if from == models.OrderStatusCancelled {
		return apperr.New(apperr.KindValidation, "Order is already cancelled")
	}
	return nil
}
