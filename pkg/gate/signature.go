package gate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-Slack-Signature"
	TimestampHeader = "X-Slack-Request-Timestamp"

	signatureVersion = "v0"
)

// DefaultMaxSkew is the replay window applied by the services.
const DefaultMaxSkew = 5 * time.Minute

// Sign returns "v0=" + hex(HMAC-SHA256(secret, "v0:" + timestamp + ":" + body)).
func Sign(body []byte, timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	_, _ = mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether the signature header matches the body
// signed with secret, compared in constant time and case-sensitively.
// With maxSkew > 0 the timestamp header must also parse as unix seconds
// within maxSkew of now; maxSkew <= 0 skips the freshness check.
func VerifySignature(body []byte, headers http.Header, secret string, maxSkew time.Duration, now time.Time) bool {
	provided := headers.Get(SignatureHeader)
	timestamp := headers.Get(TimestampHeader)
	expected := Sign(body, timestamp, secret)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return false
	}
	if maxSkew <= 0 {
		return true
	}
	return fresh(timestamp, maxSkew, now)
}

func fresh(timestamp string, maxSkew time.Duration, now time.Time) bool {
	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return false
	}
	delta := now.Sub(time.Unix(ts, 0))
	if delta < 0 {
		delta = -delta
	}
	return delta <= maxSkew
}
