package schedule

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/contestra/ai-ranker-sub001/policy"
)

// IdempotencyKey identifies one scheduled submission. Two expansions of the
// same job slot always produce the same key, whichever scheduler runs them.
func IdempotencyKey(tenant, prompt, model, country string, mode policy.Mode, scheduledAt time.Time) string {
	h := sha256.New()
	for _, field := range []string{
		tenant,
		prompt,
		model,
		strings.ToUpper(country),
		string(mode),
		scheduledAt.UTC().Format(time.RFC3339Nano),
	} {
		h.Write([]byte(field))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}
