package pipeline

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// NormalizePointID coerces a caller-supplied chunk ID into a form the
// vector store accepts as a point ID: UUID-shaped IDs and plain numbers
// pass through, anything else is hashed to a deterministic UUID-format
// string so the same logical chunk always updates in place.
func NormalizePointID(id string) string {
	if parsed, err := uuid.Parse(id); err == nil && len(id) == 36 {
		return parsed.String()
	}
	if isDigits(id) {
		return id
	}
	sum := sha256.Sum256([]byte(id))
	h := hex.EncodeToString(sum[:16])
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
