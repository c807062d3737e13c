package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/contestra/ai-ranker-sub001/policy"
)

func TestIdempotencyKey(t *testing.T) {
	at := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	base := IdempotencyKey("tenant-a", "best vat software", "gpt-4o", "DE", policy.ModeRequired, at)

	assert.Len(t, base, 64)
	assert.Equal(t, base, IdempotencyKey("tenant-a", "best vat software", "gpt-4o", "DE", policy.ModeRequired, at))

	berlin := time.FixedZone("CEST", 2*60*60)
	assert.Equal(t, base, IdempotencyKey("tenant-a", "best vat software", "gpt-4o", "de", policy.ModeRequired, at.In(berlin)),
		"same instant and country in another zone or case")

	variants := []string{
		IdempotencyKey("tenant-b", "best vat software", "gpt-4o", "DE", policy.ModeRequired, at),
		IdempotencyKey("tenant-a", "best vat tool", "gpt-4o", "DE", policy.ModeRequired, at),
		IdempotencyKey("tenant-a", "best vat software", "gpt-4.1", "DE", policy.ModeRequired, at),
		IdempotencyKey("tenant-a", "best vat software", "gpt-4o", "FR", policy.ModeRequired, at),
		IdempotencyKey("tenant-a", "best vat software", "gpt-4o", "DE", policy.ModeOff, at),
		IdempotencyKey("tenant-a", "best vat software", "gpt-4o", "DE", policy.ModeRequired, at.Add(time.Hour)),
	}
	for i, v := range variants {
		assert.NotEqual(t, base, v, "variant %d", i)
	}
}

func TestIdempotencyKey_FieldBoundaries(t *testing.T) {
	at := time.Unix(0, 0)
	assert.NotEqual(t,
		IdempotencyKey("ab", "c", "m", "", policy.ModeOff, at),
		IdempotencyKey("a", "bc", "m", "", policy.ModeOff, at),
	)
}
