package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contestra/ai-ranker-sub001/ambient"
	"github.com/contestra/ai-ranker-sub001/policy"
)

var slot = time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)

func testJob() Job {
	return Job{
		ID:     "sched-1",
		Tenant: "tenant-a",
		Prompt: "Which VAT software do accountants recommend?",
		Targets: []Target{
			{Provider: "openai", Model: "gpt-4o"},
			{Provider: "gemini", Model: "gemini-2.5-pro"},
		},
		Countries: []string{"DE", "US"},
		Modes:     []policy.Mode{policy.ModeOff, policy.ModeRequired},
		Interval:  24 * time.Hour,
	}
}

func testBuilder() *ambient.Builder {
	return ambient.NewBuilder(ambient.WithSeed(7), ambient.WithClock(func() time.Time { return slot }))
}

func TestExpand(t *testing.T) {
	subs, err := Expand(testJob(), slot, testBuilder())
	require.NoError(t, err)
	require.Len(t, subs, 2*2*2)

	keys := make(map[string]bool)
	runIDs := make(map[string]bool)
	ambientByCountry := make(map[string]string)
	for _, s := range subs {
		keys[s.Key] = true
		runIDs[s.Request.RunID] = true
		assert.Equal(t, "sched-1", s.ScheduleID)
		assert.Equal(t, slot, s.ScheduledAt)
		assert.Equal(t, "tenant-a", s.Request.ClientID)
		assert.True(t, len(s.Request.Ambient) > 0)
		assert.Contains(t, s.Request.Ambient, ambient.Header)

		if prev, ok := ambientByCountry[s.Country]; ok {
			assert.Equal(t, prev, s.Request.Ambient, "one block per country")
		}
		ambientByCountry[s.Country] = s.Request.Ambient
	}
	assert.Len(t, keys, 8)
	assert.Len(t, runIDs, 8)
	assert.NotEqual(t, ambientByCountry["DE"], ambientByCountry["US"])
}

func TestExpand_KeysStableAcrossExpansions(t *testing.T) {
	a, err := Expand(testJob(), slot, testBuilder())
	require.NoError(t, err)
	b, err := Expand(testJob(), slot, testBuilder())
	require.NoError(t, err)

	for i := range a {
		assert.Equal(t, a[i].Key, b[i].Key)
		assert.NotEqual(t, a[i].Request.RunID, b[i].Request.RunID)
	}
}

func TestExpand_NoCountries(t *testing.T) {
	job := testJob()
	job.Countries = nil

	subs, err := Expand(job, slot, testBuilder())
	require.NoError(t, err)
	require.Len(t, subs, 4)
	for _, s := range subs {
		assert.Empty(t, s.Request.Ambient)
		assert.Empty(t, s.Country)
	}
}

func TestExpand_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Job)
	}{
		{name: "missing id", mutate: func(j *Job) { j.ID = "" }},
		{name: "missing prompt", mutate: func(j *Job) { j.Prompt = "" }},
		{name: "no targets", mutate: func(j *Job) { j.Targets = nil }},
		{name: "no modes", mutate: func(j *Job) { j.Modes = nil }},
		{name: "bad mode", mutate: func(j *Job) { j.Modes = []policy.Mode{"SOMETIMES"} }},
		{name: "zero interval", mutate: func(j *Job) { j.Interval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := testJob()
			tt.mutate(&job)
			_, err := Expand(job, slot, testBuilder())
			assert.ErrorIs(t, err, ErrInvalidJob)
		})
	}

	t.Run("unknown country", func(t *testing.T) {
		job := testJob()
		job.Countries = []string{"XX"}
		_, err := Expand(job, slot, testBuilder())
		assert.ErrorIs(t, err, ambient.ErrUnknownLocale)
	})
}

func TestNextSlot(t *testing.T) {
	day := 24 * time.Hour
	assert.Equal(t, slot.Add(day), nextSlot(slot, day, slot.Add(time.Minute)))
	assert.Equal(t, slot.Add(3*day), nextSlot(slot, day, slot.Add(2*day+time.Hour)))
	assert.Equal(t, slot.Add(3*day), nextSlot(slot, day, slot.Add(2*day)))
}
