package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"math/big"
	"strconv"
)

const (
	otpMin = 100000
	otpMax = 999999

	// ResetTokenBytes is the random length of a reset token (256 bits, 64 hex chars).
	ResetTokenBytes = 32
)

// randReader is the entropy source for OTPs and reset tokens; tests swap it to force failures.
var randReader io.Reader = rand.Reader

// GenerateOTP returns a 6-digit numeric OTP drawn uniformly from [100000, 999999].
func GenerateOTP() (string, error) {
	n, err := rand.Int(randReader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+otpMin, 10), nil
}

// GenerateResetToken returns a hex-encoded token with ResetTokenBytes of entropy.
func GenerateResetToken() (string, error) {
	b := make([]byte, ResetTokenBytes)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashSecret returns a SHA-256 digest of an ephemeral secret (OTP or reset token), hex-encoded.
// Stores keep only this digest; presented values are digested before lookup.
func HashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// DigestEqual compares two HashSecret digests in constant time. Empty digests never match.
func DigestEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
