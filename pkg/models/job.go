package models

import (
	"fmt"

	"github.com/google/uuid"
)

// JobKind identifies the background work a Job requests.
type JobKind string

const (
	JobKindExtraction     JobKind = "extraction"
	JobKindCategorization JobKind = "categorization"
)

// Job is a unit of background work handed to a dispatcher.
// It is also the message body published to the job exchange.
type Job struct {
	Kind        JobKind    `json:"kind"`
	UserID      string     `json:"user_id"`
	RawPromptID *uuid.UUID `json:"raw_prompt_id,omitempty"`
	Force       bool       `json:"force,omitempty"`
}

// Validate checks that the job carries the fields its kind needs.
func (j *Job) Validate() error {
	if j.UserID == "" {
		return fmt.Errorf("job %q: missing user id", j.Kind)
	}
	switch j.Kind {
	case JobKindExtraction:
		if j.RawPromptID == nil || *j.RawPromptID == uuid.Nil {
			return fmt.Errorf("extraction job: missing raw prompt id")
		}
	case JobKindCategorization:
	default:
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
	return nil
}
