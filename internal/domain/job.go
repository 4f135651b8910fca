package domain

import "time"

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
	JobStatusCompleted:  {},
	JobStatusFailed:     {},
}

// CanTransition reports whether a job may move from one status to another
func CanTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one unit of user-requested image processing
type Job struct {
	ID                    string     `db:"id" json:"id"`
	UserID                int64      `db:"user_id" json:"user_id"`
	OriginalFilename      string     `db:"original_filename" json:"original_filename"`
	OriginalFileKey       string     `db:"original_file_key" json:"original_file_key"`
	ProcessedFileKey      *string    `db:"processed_file_key" json:"processed_file_key,omitempty"`
	Status                JobStatus  `db:"status" json:"status"`
	Options               Options    `db:"processing_options" json:"processing_options"`
	ErrorMessage          *string    `db:"error_message" json:"error_message,omitempty"`
	ProcessingTimeSeconds *float64   `db:"processing_time_seconds" json:"processing_time_seconds,omitempty"`
	Version               int64      `db:"version" json:"version"`
	EnqueuedAt            *time.Time `db:"enqueued_at" json:"enqueued_at,omitempty"`
	PublishedAt           *time.Time `db:"published_at" json:"published_at,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// IsEnqueued reports whether the job went through a successful confirm
func (j *Job) IsEnqueued() bool {
	return j.EnqueuedAt != nil
}

// IsEditable reports whether options may still be changed
func (j *Job) IsEditable() bool {
	return j.Status == JobStatusPending && !j.IsEnqueued()
}

// ShortID is the prefix of the job id shown to users
func (j *Job) ShortID() string {
	if len(j.ID) < 8 {
		return j.ID
	}
	return j.ID[:8]
}
