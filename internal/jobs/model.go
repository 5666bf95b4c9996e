package jobs

import (
	"time"

	"docstore-backend/internal/documents"
)

// Status is the lifecycle state of an ingestion job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job tracks one asynchronous ingestion.
type Job struct {
	ID               string          `json:"jobId"`
	OwnerID          string          `json:"ownerId"`
	OriginalFilename string          `json:"originalFilename"`
	SizeBytes        int64           `json:"sizeBytes"`
	IsPublic         bool            `json:"isPublic"`
	DocumentType     string          `json:"documentType"`
	Status           Status          `json:"status"`
	Result           *documents.View `json:"result,omitempty"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
	StartedAt        time.Time       `json:"startedAt"`
	EndedAt          *time.Time      `json:"endedAt,omitempty"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Terminal reports whether the job has reached completed or failed.
func (j Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// StatusView is the polling representation of a job.
type StatusView struct {
	JobID            string     `json:"jobId"`
	Status           Status     `json:"status"`
	OriginalFilename string     `json:"originalFilename"`
	SizeBytes        int64      `json:"sizeBytes"`
	DocumentType     string     `json:"documentType"`
	IsPublic         bool       `json:"isPublic"`
	DocumentID       string     `json:"documentId,omitempty"`
	IsDuplicate      bool       `json:"isDuplicate,omitempty"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	StartedAt        time.Time  `json:"startedAt"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
	ElapsedMs        int64      `json:"elapsedMs"`
}

func toStatusView(j Job, now time.Time) StatusView {
	end := now
	if j.EndedAt != nil {
		end = *j.EndedAt
	}
	elapsed := end.Sub(j.StartedAt).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	v := StatusView{
		JobID:            j.ID,
		Status:           j.Status,
		OriginalFilename: j.OriginalFilename,
		SizeBytes:        j.SizeBytes,
		DocumentType:     j.DocumentType,
		IsPublic:         j.IsPublic,
		ErrorMessage:     j.ErrorMessage,
		StartedAt:        j.StartedAt,
		EndedAt:          j.EndedAt,
		ElapsedMs:        elapsed,
	}
	if j.Result != nil {
		v.DocumentID = j.Result.DocumentID
		v.IsDuplicate = j.Result.IsDuplicate
	}
	return v
}
