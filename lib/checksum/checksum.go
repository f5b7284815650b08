package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// CalculateCheckSum returns the hex encoded sha256 digest of data.
func CalculateCheckSum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func Verify(data []byte, digest string) bool {
	return CalculateCheckSum(data) == digest
}
