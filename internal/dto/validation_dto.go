package dto

// EnqueueRequest asks the pipeline to validate a submission.
type EnqueueRequest struct {
	SubmissionID uint `json:"submission_id" validate:"required,gt=0"`
}

// QueueStatusResponse mirrors the queue's observable state.
type QueueStatusResponse struct {
	PendingCount int  `json:"pending_count"`
	IsProcessing bool `json:"is_processing"`
}

// EnqueueResponse reports whether the submission was newly enqueued.
type EnqueueResponse struct {
	SubmissionID uint `json:"submission_id"`
	Enqueued     bool `json:"enqueued"`
}
