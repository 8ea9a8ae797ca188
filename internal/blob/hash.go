package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// CalculateHash calculates the SHA-256 hash of blob content.
func CalculateHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// CalculateHashFromReader calculates the SHA-256 hash from an io.Reader.
func CalculateHashFromReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to calculate hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
