package importer

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// ContentHash fingerprints a card by its front and back. Each field is
// length prefixed so ("ab", "c") and ("a", "bc") never collide.
func ContentHash(front, back string) string {
	h := sha256.New()
	writeField(h, front)
	writeField(h, back)
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, value string) {
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(value)))
	h.Write(size[:])
	h.Write([]byte(value))
}
