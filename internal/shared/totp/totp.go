// Package totp derives RFC 6238 time-based one-time codes from a shared
// secret, for accounts whose auth secret is a long-form shared secret
// rather than a short static Steam Guard code.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	stepSeconds = 30
	digits      = 6
)

// StaticCodeMaxLen is the longest auth secret (in bytes) treated as a
// literal static code instead of a TOTP shared secret.
const StaticCodeMaxLen = 5

// Generate derives the current 6-digit code for the given shared secret.
// The secret may be raw bytes or standard base32 (Steam shared secrets are
// typically base32, padding optional).
func Generate(secret string) (string, error) {
	return GenerateAt(secret, time.Now())
}

// GenerateAt derives the code for a specific instant, for deterministic testing.
func GenerateAt(secret string, at time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}

	counter := uint64(at.Unix()) / stepSeconds

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(buf)
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	code := truncated % pow10(digits)
	return fmt.Sprintf("%0*d", digits, code), nil
}

func decodeSecret(secret string) ([]byte, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(secret))
	cleaned = strings.TrimRight(cleaned, "=")
	if cleaned == "" {
		return nil, fmt.Errorf("totp: empty secret")
	}
	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(cleaned)
	if err != nil {
		// Not valid base32: treat the secret as a raw key, matching how
		// some upstream libraries accept either form.
		return []byte(secret), nil
	}
	return decoded, nil
}

func pow10(n int) uint32 {
	p := uint32(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}
