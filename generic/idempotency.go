package generic

import (
	"strings"

	"github.com/google/uuid"
)

// MaxIdempotencyKeyLength bounds client supplied keys, counted in characters.
const MaxIdempotencyKeyLength = 100

// NormalizeIdempotencyKey trims raw and cuts it to MaxIdempotencyKeyLength.
// An empty key is replaced by a fresh random one, which makes the request
// effectively non-idempotent.
func NormalizeIdempotencyKey(raw string) string {
	key := strings.TrimSpace(raw)
	if key == "" {
		return uuid.NewString()
	}
	if r := []rune(key); len(r) > MaxIdempotencyKeyLength {
		key = string(r[:MaxIdempotencyKeyLength])
	}
	return key
}

// NewID returns a random identifier for new records.
func NewID() string { return uuid.NewString() }
