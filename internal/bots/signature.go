package bots

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerWebhookID        = "webhook-id"
	headerWebhookTimestamp = "webhook-timestamp"
	headerWebhookSignature = "webhook-signature"

	signatureTolerance = 5 * time.Minute
	secretPrefix       = "whsec_"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature headers")
	ErrStaleSignature   = errors.New("webhook timestamp outside tolerance")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// VerifySignature checks a Svix-style webhook signature: base64 HMAC-SHA256 over "id.timestamp.body"
// keyed by the decoded secret, in a space separated list of "v1,<sig>" entries.
func VerifySignature(secret string, header http.Header, body []byte, now time.Time) error {
	id := header.Get(headerWebhookID)
	ts := header.Get(headerWebhookTimestamp)
	sigs := header.Get(headerWebhookSignature)
	if id == "" || ts == "" || sigs == "" {
		return ErrMissingSignature
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	sent := time.Unix(sec, 0)
	if now.Sub(sent) > signatureTolerance || sent.Sub(now) > signatureTolerance {
		return ErrStaleSignature
	}

	expected := []byte(Sign(secret, id, ts, body))
	for _, entry := range strings.Fields(sigs) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign returns the base64 v1 signature for a webhook message.
func Sign(secret, id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, signingKey(secret))
	mac.Write([]byte(id + "." + timestamp + "."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signingKey(secret string) []byte {
	trimmed := strings.TrimPrefix(secret, secretPrefix)
	if key, err := base64.StdEncoding.DecodeString(trimmed); err == nil && strings.HasPrefix(secret, secretPrefix) {
		return key
	}
	return []byte(secret)
}
