package http

import "prowler/internal/model"

// CreateJobRequest is the POST /v1/jobs input shape.
type CreateJobRequest struct {
	URL             string           `json:"url"`
	TaskDescription string           `json:"taskDescription,omitempty"`
	ScraperType     string           `json:"scraperType,omitempty"`
	Options         model.JobOptions `json:"options"`
	UserID          string           `json:"userId,omitempty"`
	SessionID       string           `json:"sessionId,omitempty"`
}

// AnswerRequest is the POST /v1/answer input shape. Input is free-form
// text containing a URL and, optionally, a question about the page.
type AnswerRequest struct {
	Input     string           `json:"input"`
	Options   model.JobOptions `json:"options"`
	UserID    string           `json:"userId,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
}

// ChatRequest is the POST /v1/jobs/:id/chat input shape.
type ChatRequest struct {
	Message string `json:"message"`
}

// ErrorResponse is the error envelope for every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Success bool       `json:"success"`
	Job     *model.Job `json:"job"`
}

// JobListResponse wraps a page of jobs.
type JobListResponse struct {
	Success bool         `json:"success"`
	Jobs    []*model.Job `json:"jobs"`
	Total   int          `json:"total"`
}

// ChatResponse carries the model's reply plus the updated job.
type ChatResponse struct {
	Success bool       `json:"success"`
	Reply   string     `json:"reply"`
	Job     *model.Job `json:"job"`
}
