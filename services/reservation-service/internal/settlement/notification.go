// Package settlement applies gateway payment notifications to orders. Push
// webhooks and status polls share one entry point.
package settlement

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/gateway"
	"github.com/shopspring/decimal"
)

type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
)

// Notification is the field set of both the HTTP notification and the
// status endpoint.
type Notification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	SignatureKey      string `json:"signature_key"`
	SettlementTime    string `json:"settlement_time,omitempty"`
	TransactionID     string `json:"transaction_id,omitempty"`
	TransactionTime   string `json:"transaction_time,omitempty"`
	PaymentType       string `json:"payment_type,omitempty"`

	Source Source `json:"-"`
}

func FromResponse(r gateway.Response, src Source) Notification {
	return Notification{
		OrderID:           r.OrderID,
		StatusCode:        r.StatusCode,
		GrossAmount:       r.GrossAmount,
		TransactionStatus: r.TransactionStatus,
		FraudStatus:       r.FraudStatus,
		SignatureKey:      r.SignatureKey,
		SettlementTime:    r.SettlementTime,
		TransactionID:     r.TransactionID,
		TransactionTime:   r.TransactionTime,
		PaymentType:       r.PaymentType,
		Source:            src,
	}
}

// Validate checks the required fields. fraud_status may be empty for
// statuses other than capture and settlement.
func (n Notification) Validate() error {
	missing := []string{}
	for name, v := range map[string]string{
		"order_id":           n.OrderID,
		"status_code":        n.StatusCode,
		"gross_amount":       n.GrossAmount,
		"transaction_status": n.TransactionStatus,
		"signature_key":      n.SignatureKey,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return apperr.Validation("notification is missing required fields").WithDetail("fields", missing)
	}
	if _, err := decimal.NewFromString(n.GrossAmount); err != nil {
		return apperr.Validation("gross_amount is not a number").WithDetail("gross_amount", n.GrossAmount)
	}
	return nil
}

// Digest identifies a notification by the fields that change state, so a
// push and a poll reporting the same status collapse to one record.
func (n Notification) Digest() string {
	h := sha256.New()
	for _, part := range []string{n.OrderID, n.TransactionStatus, n.FraudStatus, n.StatusCode, n.GrossAmount, n.TransactionID, n.SettlementTime} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
