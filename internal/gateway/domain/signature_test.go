package domain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test_secret"
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_123"}}}}`)

	t.Run("valid signature", func(t *testing.T) {
		assert.True(t, VerifySignature(body, sign(body, secret), secret))
	})

	t.Run("single bit flip in body", func(t *testing.T) {
		signature := sign(body, secret)
		tampered := make([]byte, len(body))
		copy(tampered, body)
		tampered[10] ^= 0x01
		assert.False(t, VerifySignature(tampered, signature, secret))
	})

	t.Run("whitespace change in body", func(t *testing.T) {
		signature := sign(body, secret)
		spaced := []byte(`{"event": "payment.captured","payload":{"payment":{"entity":{"id":"pay_123"}}}}`)
		assert.False(t, VerifySignature(spaced, signature, secret))
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.False(t, VerifySignature(body, sign(body, "other_secret"), secret))
	})

	t.Run("missing header", func(t *testing.T) {
		assert.False(t, VerifySignature(body, "", secret))
		assert.False(t, VerifySignature(body, "   ", secret))
	})

	t.Run("missing secret", func(t *testing.T) {
		assert.False(t, VerifySignature(body, sign(body, secret), ""))
	})

	t.Run("header surrounding whitespace tolerated", func(t *testing.T) {
		assert.True(t, VerifySignature(body, "  "+sign(body, secret)+"\n", secret))
	})

	t.Run("empty body still signable", func(t *testing.T) {
		empty := []byte{}
		assert.True(t, VerifySignature(empty, sign(empty, secret), secret))
	})
}
