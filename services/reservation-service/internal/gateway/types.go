package gateway

import "time"

// ChargeRequest is the Core API charge body.
type ChargeRequest struct {
	PaymentType        string              `json:"payment_type"`
	TransactionDetails TransactionDetails  `json:"transaction_details"`
	CustomerDetails    *CustomerDetails    `json:"customer_details,omitempty"`
	ItemDetails        []ItemDetail        `json:"item_details"`
	CustomExpiry       *CustomExpiry       `json:"custom_expiry,omitempty"`
	Gopay              *GopayOptions       `json:"gopay,omitempty"`
	BankTransfer       *BankTransferOption `json:"bank_transfer,omitempty"`
	QRIS               *QRISOptions        `json:"qris,omitempty"`
	Metadata           map[string]string   `json:"metadata,omitempty"`
}

type TransactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type CustomerDetails struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type ItemDetail struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type CustomExpiry struct {
	ExpiryDuration int    `json:"expiry_duration"`
	Unit           string `json:"unit"`
}

type GopayOptions struct {
	EnableCallback bool   `json:"enable_callback"`
	CallbackURL    string `json:"callback_url,omitempty"`
}

type BankTransferOption struct {
	Bank    string          `json:"bank"`
	Permata *PermataOptions `json:"permata,omitempty"`
}

type PermataOptions struct {
	RecipientName string `json:"recipient_name"`
}

type QRISOptions struct {
	Acquirer string `json:"acquirer"`
}

// Response is shared by charge, status and the action endpoints. The
// status endpoint returns the same field set as a push notification.
type Response struct {
	StatusCode        string     `json:"status_code"`
	StatusMessage     string     `json:"status_message"`
	TransactionID     string     `json:"transaction_id"`
	OrderID           string     `json:"order_id"`
	GrossAmount       string     `json:"gross_amount"`
	Currency          string     `json:"currency"`
	PaymentType       string     `json:"payment_type"`
	TransactionTime   string     `json:"transaction_time"`
	TransactionStatus string     `json:"transaction_status"`
	FraudStatus       string     `json:"fraud_status"`
	SignatureKey      string     `json:"signature_key"`
	Acquirer          string     `json:"acquirer"`
	SettlementTime    string     `json:"settlement_time"`
	ExpiryTime        string     `json:"expiry_time"`
	PermataVANumber   string     `json:"permata_va_number"`
	VANumbers         []VANumber `json:"va_numbers"`
	Actions           []Action   `json:"actions"`
}

type VANumber struct {
	Bank     string `json:"bank"`
	VANumber string `json:"va_number"`
}

type Action struct {
	Name   string `json:"name"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

// VA returns the first virtual account number of a bank transfer.
func (r Response) VA() string {
	for _, v := range r.VANumbers {
		if v.VANumber != "" {
			return v.VANumber
		}
	}
	return r.PermataVANumber
}

// TimeLayout is how the gateway renders timestamps, in the merchant's local
// time.
const TimeLayout = "2006-01-02 15:04:05"

// ParseTime reads a gateway timestamp in loc.
func ParseTime(raw string, loc *time.Location) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(TimeLayout, raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
