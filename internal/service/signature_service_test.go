package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHMACSignatureService_SignVerify_RoundTrip(t *testing.T) {
	s := NewHMACSignatureService()
	payload := `{"amount":100,"reference":"r1"}`

	sig := s.Sign("topsecret", payload)
	assert.True(t, s.Verify("topsecret", payload, sig))
}

func TestHMACSignatureService_Verify_RejectsMutatedPayload(t *testing.T) {
	s := NewHMACSignatureService()
	payload := `{"amount":100}`
	sig := s.Sign("topsecret", payload)

	assert.False(t, s.Verify("topsecret", `{"amount":101}`, sig))
}

func TestHMACSignatureService_Verify_RejectsMutatedSignature(t *testing.T) {
	s := NewHMACSignatureService()
	payload := `{"amount":100}`
	sig := s.Sign("topsecret", payload)

	mutated := []byte(sig)
	mutated[0] ^= 0x01
	assert.False(t, s.Verify("topsecret", payload, string(mutated)))
}

func TestHMACSignatureService_BuildTimestampHeader(t *testing.T) {
	s := NewHMACSignatureService()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	header := s.BuildTimestampHeader(ts, "abc123")
	assert.Equal(t, "t=1767225600000,n=abc123", header)

	millis, nonce, err := ParseTimestampHeader(header)
	assert.NoError(t, err)
	assert.Equal(t, ts.UnixMilli(), millis)
	assert.Equal(t, "abc123", nonce)
}
