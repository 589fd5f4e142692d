package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignPayload computes the hex encoded HMAC-SHA256 of payload under secret.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the payload signature and compares it to the
// presented one in constant time. Hex decoding failures count as mismatch.
func VerifySignature(secret string, payload []byte, signature string) bool {
	presented, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(presented) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), presented)
}
