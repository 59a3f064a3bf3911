package uploads

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/vidfriends/groupcast/internal/models"
)

// Fingerprint identifies "the same upload": the intended media kind plus the
// source location. Capture files are ephemeral, so the bytes are never hashed.
func Fingerprint(media models.MediaDescriptor) string {
	key := string(media.Kind) + "\x00" + strings.TrimSpace(media.SourceURI)
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:32]
}
