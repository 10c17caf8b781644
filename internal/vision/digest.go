package vision

import (
	"encoding/hex"

	"github.com/zeebo/xxh3"
)

// Digest returns a stable 128-bit content fingerprint of data as hex.
func Digest(data []byte) string {
	sum := xxh3.Hash128(data).Bytes()
	return hex.EncodeToString(sum[:])
}
