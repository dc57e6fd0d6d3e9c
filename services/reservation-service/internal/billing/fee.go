package billing

import (
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/shopspring/decimal"
)

const BankTransferFee int64 = 4000

var (
	gopayRate = decimal.RequireFromString("0.02")
	qrisRate  = decimal.RequireFromString("0.007")
)

type Bill struct {
	Method     model.PaymentMethod `json:"payment_method"`
	Subtotal   int64               `json:"subtotal"`
	Fee        int64               `json:"transaction_fee"`
	GrandTotal int64               `json:"grand_total"`
}

// Fee is the transaction fee charged on top of subtotal, in whole rupiah.
// Percentage fees round half up.
func Fee(method model.PaymentMethod, subtotal int64) (int64, error) {
	if subtotal < 0 {
		return 0, apperr.Validation("subtotal must not be negative")
	}
	switch method {
	case model.PaymentBankTransfer:
		return BankTransferFee, nil
	case model.PaymentGopay:
		return percent(subtotal, gopayRate), nil
	case model.PaymentQRIS:
		return percent(subtotal, qrisRate), nil
	case model.PaymentCash:
		return 0, nil
	}
	return 0, apperr.Validation("unsupported payment method").WithDetail("payment_method", string(method))
}

func CalculateBill(method model.PaymentMethod, subtotal int64) (Bill, error) {
	fee, err := Fee(method, subtotal)
	if err != nil {
		return Bill{}, err
	}
	return Bill{Method: method, Subtotal: subtotal, Fee: fee, GrandTotal: subtotal + fee}, nil
}

func percent(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}

// ParseAmount reads a gateway amount such as "54000.00" as whole rupiah.
func ParseAmount(raw string) (int64, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return 0, false
	}
	return d.Round(0).IntPart(), true
}
