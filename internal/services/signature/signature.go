// Package signature implements the HMAC-SHA256 request signing shared by inbound
// job submissions and outbound status callbacks.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/ternarybob/sheetporter/internal/models"
)

const (
	// HeaderSignature carries the hex HMAC of body+timestamp
	HeaderSignature = "X-Signature"
	// HeaderTimestamp carries the signing time in epoch seconds
	HeaderTimestamp = "X-Timestamp"

	// DefaultTolerance is the accepted clock skew in either direction
	DefaultTolerance = 300 * time.Second
)

// Sign returns hex(HMAC_SHA256(secret, body + timestamp))
func Sign(secret string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// Timestamp formats t as epoch seconds
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// Verifier checks inbound signatures against a shared secret
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier. A non-positive tolerance uses DefaultTolerance.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance, now: time.Now}
}

// Verify checks signature and timestamp for body. Errors are auth header errors.
func (v *Verifier) Verify(body []byte, timestamp, sig string) error {
	if sig == "" || timestamp == "" {
		return models.NewAuthHeaderError("missing signature or timestamp")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return models.NewAuthHeaderError("invalid timestamp")
	}

	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return models.NewAuthHeaderError("request timestamp too old")
	}

	expected, err := hex.DecodeString(Sign(v.secret, body, timestamp))
	if err != nil {
		return models.NewAuthHeaderError("invalid signature")
	}
	provided, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(expected, provided) {
		return models.NewAuthHeaderError("invalid signature")
	}

	return nil
}
