package signature

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/sheetporter/internal/models"
)

func newTestVerifier(now time.Time) *Verifier {
	v := NewVerifier("shared-secret", 0)
	v.now = func() time.Time { return now }
	return v
}

func TestSignVerifyRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"jobId":"j1","sourceId":"sheet1"}`)
	ts := Timestamp(now)
	sig := Sign("shared-secret", body, ts)

	v := newTestVerifier(now)
	require.NoError(t, v.Verify(body, ts, sig))

	// Within tolerance in both directions
	require.NoError(t, newTestVerifier(now.Add(299*time.Second)).Verify(body, ts, sig))
	require.NoError(t, newTestVerifier(now.Add(-299*time.Second)).Verify(body, ts, sig))
}

func TestVerify_RejectsTamperedBody(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"jobId":"j1"}`)
	ts := Timestamp(now)
	sig := Sign("shared-secret", body, ts)

	for i := range body {
		tampered := append([]byte(nil), body...)
		tampered[i] ^= 0x01
		err := newTestVerifier(now).Verify(tampered, ts, sig)
		assert.True(t, errors.Is(err, models.ErrAuthHeader), "byte %d", i)
	}
}

func TestVerify_RejectsWrongSecretAndTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{}`)
	ts := Timestamp(now)

	err := newTestVerifier(now).Verify(body, ts, Sign("other-secret", body, ts))
	assert.True(t, errors.Is(err, models.ErrAuthHeader))

	// Signature computed for a different timestamp
	err = newTestVerifier(now).Verify(body, ts, Sign("shared-secret", body, Timestamp(now.Add(time.Second))))
	assert.True(t, errors.Is(err, models.ErrAuthHeader))
}

func TestVerify_Expired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{}`)
	ts := Timestamp(now)
	sig := Sign("shared-secret", body, ts)

	err := newTestVerifier(now.Add(301 * time.Second)).Verify(body, ts, sig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too old")

	err = newTestVerifier(now.Add(-301 * time.Second)).Verify(body, ts, sig)
	assert.Error(t, err)
}

func TestVerify_MissingOrMalformedHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newTestVerifier(now)

	assert.Error(t, v.Verify([]byte(`{}`), "", "abc"))
	assert.Error(t, v.Verify([]byte(`{}`), Timestamp(now), ""))
	assert.Error(t, v.Verify([]byte(`{}`), "yesterday", "abc"))
	assert.Error(t, v.Verify([]byte(`{}`), Timestamp(now), "not-hex"))
}
