// Package sha256 names archived pages by content digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher. Identical page bodies map to the same
// digest, so an archive keeps one copy per distinct page.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher { return &Hasher{} }

// Hash returns the lowercase hex digest of data. It never fails.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
