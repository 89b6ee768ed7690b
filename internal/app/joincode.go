package app

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// DefaultJoinCodeLength is the length of generated join codes.
const DefaultJoinCodeLength = 6

// joinCodeAlphabet drops characters that are easy to misread (0/O, 1/I/L).
const joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const joinCodeAttempts = 8

// GenerateJoinCode returns a random code of length n drawn from the join code alphabet.
func GenerateJoinCode(n int) (string, error) {
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = joinCodeAlphabet[num.Int64()]
	}
	return string(b), nil
}

// ValidJoinCode reports whether code only uses the join code alphabet.
func ValidJoinCode(code string) bool {
	if code == "" {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(joinCodeAlphabet, r) {
			return false
		}
	}
	return true
}
