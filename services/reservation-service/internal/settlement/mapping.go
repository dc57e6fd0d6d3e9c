package settlement

import (
	"strings"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
)

// Outcome is the internal status pair a gateway status maps to.
type Outcome struct {
	Order model.OrderStatus
	Item  model.ItemStatus
}

// Map translates gateway vocabulary. It reports false for combinations that
// carry no decision, such as a capture still under fraud review.
func Map(transactionStatus, fraudStatus string) (Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(transactionStatus)) {
	case "settlement", "capture":
		if strings.ToLower(strings.TrimSpace(fraudStatus)) != "accept" {
			return Outcome{}, false
		}
		return Outcome{Order: model.OrderPaid, Item: model.ItemScheduled}, true
	case "cancel", "deny":
		return Outcome{Order: model.OrderCanceled, Item: model.ItemCanceled}, true
	case "expire":
		return Outcome{Order: model.OrderExpired, Item: model.ItemExpired}, true
	case "pending":
		return Outcome{Order: model.OrderUnpaid, Item: model.ItemPending}, true
	}
	return Outcome{}, false
}
