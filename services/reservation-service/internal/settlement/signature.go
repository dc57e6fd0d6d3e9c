package settlement

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Sign computes hex(SHA-512(order_id + status_code + gross_amount + server_key)).
func Sign(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// VerifySignature compares in constant time. Hex case is ignored.
func VerifySignature(n Notification, serverKey string) bool {
	want := Sign(n.OrderID, n.StatusCode, n.GrossAmount, serverKey)
	got := strings.ToLower(strings.TrimSpace(n.SignatureKey))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
