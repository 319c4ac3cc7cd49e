package cryptoutils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// LoRaWAN join credential sizes in bytes.
const (
	DevEUISize = 8
	AppKeySize = 16
	NwkKeySize = 16
)

// JoinKeys are the OTAA credentials written into a device record, rendered as
// uppercase hex.
type JoinKeys struct {
	DevEUI string
	AppKey string
	NwkKey string
}

// RandomHex reads n bytes from r and renders them as 2n uppercase hex characters.
// A nil r uses crypto/rand.
func RandomHex(r io.Reader, n int) (string, error) {
	if r == nil {
		r = rand.Reader
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read randomness: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// GenerateJoinKeys draws a fresh devEUI, appKey and nwkKey, each independently.
func GenerateJoinKeys(r io.Reader) (JoinKeys, error) {
	devEUI, err := RandomHex(r, DevEUISize)
	if err != nil {
		return JoinKeys{}, fmt.Errorf("devEUI: %w", err)
	}
	appKey, err := RandomHex(r, AppKeySize)
	if err != nil {
		return JoinKeys{}, fmt.Errorf("appKey: %w", err)
	}
	nwkKey, err := RandomHex(r, NwkKeySize)
	if err != nil {
		return JoinKeys{}, fmt.Errorf("nwkKey: %w", err)
	}

	return JoinKeys{DevEUI: devEUI, AppKey: appKey, NwkKey: nwkKey}, nil
}

// IsUpperHex reports whether s is exactly n uppercase hex characters.
func IsUpperHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// Fingerprint returns a short BLAKE2b digest of a secret, safe to put in logs for
// correlating a key with its audit row.
func Fingerprint(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:4])
}
