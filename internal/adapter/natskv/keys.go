package natskv

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// Digest maps an arbitrary identifier (document ids, e-mail addresses) onto
// a fixed-length token that is always a valid KV key segment.
func Digest(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

// Key joins a prefix and the digest of each part with dots.
func Key(prefix string, parts ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteByte('.')
		b.WriteString(Digest(p))
	}
	return b.String()
}
