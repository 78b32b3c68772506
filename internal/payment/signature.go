package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA256 of "orderID|paymentID" under secret, the
// signature scheme of the widget's success payload.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether resp carries a valid signature for secret.
func VerifySignature(secret string, resp SuccessResponse) bool {
	want := Sign(secret, resp.OrderID, resp.PaymentID)
	return hmac.Equal([]byte(want), []byte(resp.Signature))
}
