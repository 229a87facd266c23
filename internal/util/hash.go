package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex is the lowercase hex digest used for upload checksums.
func SHA256Hex(b []byte) string {
	x := sha256.Sum256(b)
	return hex.EncodeToString(x[:])
}
