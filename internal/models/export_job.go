package models

import (
	"time"

	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

// CollectionExports holds attendance export jobs.
const CollectionExports = "exports"

// ExportFormat enumerates supported export formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportStatus captures background job lifecycle states.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "QUEUED"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusFinished   ExportStatus = "FINISHED"
	ExportStatusFailed     ExportStatus = "FAILED"
)

// ExportJob is an attendance export request and its outcome.
type ExportJob struct {
	ID           string       `json:"id"`
	From         string       `json:"from"`
	To           string       `json:"to"`
	Format       ExportFormat `json:"format"`
	Status       ExportStatus `json:"status"`
	ResultURL    *string      `json:"result_url,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	CreatedBy    string       `json:"created_by"`
	CreatedAt    time.Time    `json:"created_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// Fields renders a queued job.
func (j ExportJob) Fields() map[string]interface{} {
	return map[string]interface{}{
		"from":       j.From,
		"to":         j.To,
		"format":     string(j.Format),
		"status":     string(j.Status),
		"created_by": j.CreatedBy,
		"created_at": docstore.ServerTimestamp,
	}
}

// ExportJobFromDocument decodes a stored job.
func ExportJobFromDocument(doc docstore.Document) ExportJob {
	job := ExportJob{
		ID:           doc.ID,
		From:         doc.String("from"),
		To:           doc.String("to"),
		Format:       ExportFormat(doc.String("format")),
		Status:       ExportStatus(doc.String("status")),
		ResultURL:    doc.StringPtr("result_url"),
		ErrorMessage: doc.StringPtr("error_message"),
		CreatedBy:    doc.String("created_by"),
		CreatedAt:    doc.Time("created_at"),
	}
	if t, ok := docstore.AsTime(doc.Data["finished_at"]); ok {
		job.FinishedAt = &t
	}
	return job
}
