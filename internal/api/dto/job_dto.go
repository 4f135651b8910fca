package dto

import (
	"time"

	"github.com/cuongbtq/image-bot/internal/domain"
)

type ListJobsRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID                 string         `json:"job_id"`
	UserID                int64          `json:"user_id"`
	OriginalFilename      string         `json:"original_filename"`
	Status                string         `json:"status"`
	Options               domain.Options `json:"processing_options"`
	ProcessedFileKey      string         `json:"processed_file_key,omitempty"`
	DownloadURL           string         `json:"download_url,omitempty"`
	ErrorMessage          string         `json:"error_message,omitempty"`
	ProcessingTimeSeconds *float64       `json:"processing_time_seconds,omitempty"`
	Enqueued              bool           `json:"enqueued"`
	CreatedAt             string         `json:"created_at"`
	UpdatedAt             string         `json:"updated_at"`
}

// NewJobDTO flattens a job for JSON output
func NewJobDTO(job *domain.Job) JobDTO {
	out := JobDTO{
		JobID:                 job.ID,
		UserID:                job.UserID,
		OriginalFilename:      job.OriginalFilename,
		Status:                string(job.Status),
		Options:               job.Options,
		ProcessingTimeSeconds: job.ProcessingTimeSeconds,
		Enqueued:              job.IsEnqueued(),
		CreatedAt:             job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             job.UpdatedAt.Format(time.RFC3339),
	}
	if job.ProcessedFileKey != nil {
		out.ProcessedFileKey = *job.ProcessedFileKey
	}
	if job.ErrorMessage != nil {
		out.ErrorMessage = *job.ErrorMessage
	}
	return out
}
