package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// HMACSignatureService implements ports.SignatureService using HMAC-SHA256.
// The algorithm is fixed to SHA-256: config.WebhookConfig.SignatureAlgorithm
// is not read here, and no delivery header names the algorithm.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign computes HMAC-SHA256 of payload using secretKey.
// Returns the base64-encoded signature, matching the X-Webhook-Signature
// header contract.
func (s *HMACSignatureService) Sign(secretKey string, payload string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks if signature matches HMAC-SHA256(secretKey, payload).
// Uses constant-time comparison to prevent timing attacks.
func (s *HMACSignatureService) Verify(secretKey string, payload string, signature string) bool {
	expected := s.Sign(secretKey, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// BuildTimestampHeader constructs the X-Webhook-Timestamp header value:
// t=<millis>,n=<nonce>.
func (s *HMACSignatureService) BuildTimestampHeader(t time.Time, nonce string) string {
	return fmt.Sprintf("t=%d,n=%s", t.UnixMilli(), nonce)
}

// ParseTimestampHeader splits a t=<millis>,n=<nonce> header back into its
// components.
func ParseTimestampHeader(header string) (millis int64, nonce string, err error) {
	_, err = fmt.Sscanf(header, "t=%d,n=%s", &millis, &nonce)
	if err != nil {
		return 0, "", fmt.Errorf("parsing timestamp header: %w", err)
	}
	return millis, nonce, nil
}
