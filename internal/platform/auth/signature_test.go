package auth

import (
	"strings"
	"testing"
)

func TestSignAndVerifyPayload(t *testing.T) {
	payload := []byte("order_rzp_123|pay_rzp_456")
	signature := SignPayload("key-secret", payload)

	if !VerifySignature("key-secret", payload, signature) {
		t.Fatal("expected signature to verify")
	}
	if VerifySignature("other-secret", payload, signature) {
		t.Fatal("signature verified under wrong secret")
	}
	if VerifySignature("key-secret", []byte("tampered"), signature) {
		t.Fatal("signature verified for tampered payload")
	}
}

func TestVerifySignatureRejectsMalformed(t *testing.T) {
	payload := []byte("payload")
	if VerifySignature("secret", payload, "not-hex") {
		t.Fatal("non-hex signature verified")
	}
	if VerifySignature("secret", payload, "") {
		t.Fatal("empty signature verified")
	}
	if VerifySignature("secret", payload, "   ") {
		t.Fatal("blank signature verified")
	}
}

func TestVerifySignatureTrimsWhitespace(t *testing.T) {
	payload := []byte("payload")
	signature := SignPayload("secret", payload)
	if !VerifySignature("secret", payload, "  "+signature+"\n") {
		t.Fatal("expected trimmed signature to verify")
	}
	if VerifySignature("secret", payload, strings.ToUpper(signature)+"zz") {
		t.Fatal("corrupted signature verified")
	}
}
