package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// errVerification is the only verification error callers ever see.
var errVerification = errors.New("webhook verification failed")

// verifyHMACSignature checks an HMAC-SHA256 signature of body. Accepted
// formats are "sha256=<hex>" (GitHub X-Hub-Signature-256) and plain hex.
func verifyHMACSignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return errVerification
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expectedMAC := mac.Sum(nil)

	actualMAC, err := parseSignature(signature)
	if err != nil {
		return errVerification
	}

	if subtle.ConstantTimeCompare(expectedMAC, actualMAC) != 1 {
		return errVerification
	}
	return nil
}

func parseSignature(signature string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
}

// Sign returns the "sha256=<hex>" signature a sender attaches to body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
