package main

import (
	"bytes"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/salonbook/libs/config"
	"github.com/shopspring/decimal"
)

// statusCodes are the codes the gateway pairs with each transaction status.
var statusCodes = map[string]string{
	"capture":    "200",
	"settlement": "200",
	"pending":    "201",
	"deny":       "202",
	"cancel":     "202",
	"expire":     "407",
}

func main() {
	var (
		baseURL   = flag.String("base-url", config.String("BASE_URL", "http://localhost:8085"), "reservation service base url")
		orderID   = flag.String("order-id", config.String("ORDER_ID", ""), "order id to settle")
		status    = flag.String("status", config.String("TRANSACTION_STATUS", "settlement"), "transaction_status")
		fraud     = flag.String("fraud", config.String("FRAUD_STATUS", "accept"), "fraud_status")
		gross     = flag.String("gross", config.String("GROSS_AMOUNT", ""), "gross amount in rupiah, e.g. 54000")
		serverKey = flag.String("server-key", config.String("MIDTRANS_SERVER_KEY", ""), "gateway server key")
		tamper    = flag.Bool("tamper", false, "sign a different amount than the one sent")
	)
	flag.Parse()

	if strings.TrimSpace(*serverKey) == "" {
		fatal("MIDTRANS_SERVER_KEY is required")
	}
	if strings.TrimSpace(*orderID) == "" {
		fatal("ORDER_ID is required")
	}
	amount, err := decimal.NewFromString(*gross)
	if err != nil {
		fatal("GROSS_AMOUNT must be a number")
	}
	code, ok := statusCodes[*status]
	if !ok {
		fatal("unsupported transaction status: " + *status)
	}

	grossText := amount.StringFixed(2)
	signed := grossText
	if *tamper {
		signed = amount.Add(decimal.NewFromInt(1)).StringFixed(2)
	}
	now := time.Now()
	body := map[string]any{
		"order_id":           *orderID,
		"status_code":        code,
		"gross_amount":       grossText,
		"transaction_status": *status,
		"fraud_status":       *fraud,
		"transaction_id":     uuid.NewString(),
		"transaction_time":   now.Format("2006-01-02 15:04:05"),
		"payment_type":       "bank_transfer",
		"signature_key":      sign(*orderID, code, signed, *serverKey),
	}
	if *status == "settlement" {
		body["settlement_time"] = now.Format("2006-01-02 15:04:05")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		fatal(err.Error())
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/payments/notifications", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: config.Duration("SIM_TIMEOUT", 10*time.Second)}
	resp, err := client.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	fmt.Printf("status=%d body=%s\n", resp.StatusCode, strings.TrimSpace(string(out)))
}

func sign(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
