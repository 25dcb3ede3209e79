package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func ShortenString(s string, l int) string {
	if len(s) > l && l != 0 {
		return fmt.Sprintf("%s...", s[:l])
	}
	return s
}

// RandomString returns the given prefix suffixed with a random hex
// string, usable as a file name.
func RandomString(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	if prefix == "" {
		return hex.EncodeToString(b), nil
	}
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(b)), nil
}
