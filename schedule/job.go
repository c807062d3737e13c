// Package schedule expands recurring grounding jobs into run submissions
// with at-most-once enqueue per job slot.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/contestra/ai-ranker-sub001/ambient"
	"github.com/contestra/ai-ranker-sub001/grounding"
	"github.com/contestra/ai-ranker-sub001/policy"
)

// ErrInvalidJob is returned for jobs that cannot be expanded.
var ErrInvalidJob = errors.New("invalid job")

// Target is one provider/model pair a job checks.
type Target struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

// Job is a recurring grounding check. Countries are ambient locale codes;
// an empty list means one submission per target and mode without ambient
// context.
type Job struct {
	ID        string        `json:"id" yaml:"id"`
	Tenant    string        `json:"tenant" yaml:"tenant"`
	System    string        `json:"system,omitempty" yaml:"system"`
	Prompt    string        `json:"prompt" yaml:"prompt"`
	Targets   []Target      `json:"targets" yaml:"targets"`
	Countries []string      `json:"countries,omitempty" yaml:"countries"`
	Modes     []policy.Mode `json:"modes" yaml:"modes"`
	Interval  time.Duration `json:"interval" yaml:"interval"`
}

// Validate reports whether the job can be expanded.
func (j Job) Validate() error {
	switch {
	case j.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidJob)
	case j.Prompt == "":
		return fmt.Errorf("%w %s: missing prompt", ErrInvalidJob, j.ID)
	case len(j.Targets) == 0:
		return fmt.Errorf("%w %s: no targets", ErrInvalidJob, j.ID)
	case len(j.Modes) == 0:
		return fmt.Errorf("%w %s: no modes", ErrInvalidJob, j.ID)
	case j.Interval <= 0:
		return fmt.Errorf("%w %s: interval must be positive", ErrInvalidJob, j.ID)
	}
	for _, m := range j.Modes {
		if _, err := policy.ParseMode(string(m)); err != nil {
			return fmt.Errorf("%w %s: %v", ErrInvalidJob, j.ID, err)
		}
	}
	return nil
}

// Submission is one run a tick wants to enqueue.
type Submission struct {
	Key         string
	ScheduleID  string
	ScheduledAt time.Time
	Country     string
	Request     grounding.RunRequest
}

// Expand builds one submission per target × country × mode for the slot at
// scheduledAt. Ambient blocks are rendered once per country and shared by
// every submission for it.
func Expand(job Job, scheduledAt time.Time, builder *ambient.Builder) ([]Submission, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	countries := job.Countries
	if len(countries) == 0 {
		countries = []string{""}
	}

	blocks := make(map[string]string, len(countries))
	for _, c := range countries {
		if c == "" || builder == nil {
			continue
		}
		block, err := builder.Build(c)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.ID, err)
		}
		blocks[c] = block.Text
	}

	subs := make([]Submission, 0, len(job.Targets)*len(countries)*len(job.Modes))
	for _, t := range job.Targets {
		for _, c := range countries {
			for _, m := range job.Modes {
				mode, _ := policy.ParseMode(string(m))
				subs = append(subs, Submission{
					Key:         IdempotencyKey(job.Tenant, job.Prompt, t.Model, c, mode, scheduledAt),
					ScheduleID:  job.ID,
					ScheduledAt: scheduledAt,
					Country:     c,
					Request: grounding.RunRequest{
						RunID:    uuid.NewString(),
						ClientID: job.Tenant,
						Provider: t.Provider,
						Model:    t.Model,
						Mode:     mode,
						System:   job.System,
						Ambient:  blocks[c],
						Prompt:   job.Prompt,
					},
				})
			}
		}
	}
	return subs, nil
}
