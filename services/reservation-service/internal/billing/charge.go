package billing

import (
	"strings"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/gateway"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
)

var supportedBanks = map[string]bool{"bca": true, "bni": true, "bri": true, "permata": true}

type chargeLine struct {
	ProductID   string
	ProductName string
	Price       int64
}

type chargeInput struct {
	Order    model.Order
	Customer Customer
	Lines    []chargeLine
	Bill     Bill
	Bank     string
}

// buildCharge renders the Core API charge body: one item per order line
// plus a transaction fee line, with method-specific options.
func (s *Service) buildCharge(in chargeInput) gateway.ChargeRequest {
	items := make([]gateway.ItemDetail, 0, len(in.Lines)+1)
	for _, l := range in.Lines {
		items = append(items, gateway.ItemDetail{ID: l.ProductID, Name: l.ProductName, Price: l.Price, Quantity: 1})
	}
	items = append(items, gateway.ItemDetail{ID: "transaction_fee", Name: "Biaya Transaksi", Price: in.Bill.Fee, Quantity: 1})

	first, last, _ := strings.Cut(strings.TrimSpace(in.Customer.Name), " ")
	req := gateway.ChargeRequest{
		PaymentType: string(in.Bill.Method),
		TransactionDetails: gateway.TransactionDetails{
			OrderID:     in.Order.ID,
			GrossAmount: in.Bill.GrandTotal,
		},
		CustomerDetails: &gateway.CustomerDetails{
			FirstName: first,
			LastName:  last,
			Email:     in.Customer.Email,
			Phone:     in.Customer.Phone,
		},
		ItemDetails: items,
		Metadata:    map[string]string{"order_code": in.Order.Code},
	}
	if s.cfg.ExpiryMinutes > 0 {
		req.CustomExpiry = &gateway.CustomExpiry{ExpiryDuration: s.cfg.ExpiryMinutes, Unit: "minute"}
	}

	switch in.Bill.Method {
	case model.PaymentGopay:
		req.Gopay = &gateway.GopayOptions{EnableCallback: true, CallbackURL: s.cfg.GopayCallbackURL}
	case model.PaymentQRIS:
		req.QRIS = &gateway.QRISOptions{Acquirer: "gopay"}
	case model.PaymentBankTransfer:
		req.BankTransfer = &gateway.BankTransferOption{Bank: in.Bank}
		if in.Bank == "permata" {
			req.BankTransfer.Permata = &gateway.PermataOptions{RecipientName: s.cfg.PermataRecipient}
		}
	}
	return req
}

// paymentInfo copies the gateway fields worth keeping on the order.
func (s *Service) paymentInfo(resp gateway.Response) model.PaymentInfo {
	info := model.PaymentInfo{
		TransactionID:     resp.TransactionID,
		PaymentType:       resp.PaymentType,
		TransactionStatus: resp.TransactionStatus,
		FraudStatus:       resp.FraudStatus,
		VANumber:          resp.VA(),
		Acquirer:          resp.Acquirer,
	}
	for _, a := range resp.Actions {
		info.Actions = append(info.Actions, model.PaymentAction{Name: a.Name, Method: a.Method, URL: a.URL})
	}
	loc := s.eval.Hours().Location
	if t, ok := gateway.ParseTime(resp.TransactionTime, loc); ok {
		info.TransactionTime = &t
	}
	if t, ok := gateway.ParseTime(resp.ExpiryTime, loc); ok {
		info.ExpiryTime = &t
	}
	return info
}
