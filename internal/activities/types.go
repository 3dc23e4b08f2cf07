package activities

import (
	"lexrag/internal/merge"
	"lexrag/internal/models"
)

type ClaimJobsInput struct {
	Limit int `json:"limit"`
}

type ClaimJobsOutput struct {
	Jobs []models.RetrievalJob `json:"jobs"`
}

type ProcessJobInput struct {
	JobID string `json:"job_id"`
	Table string `json:"table"`
	DocID string `json:"doc_id"`
}

type ProcessJobOutput struct {
	ChunkCount int `json:"chunk_count"`
}

type MarkJobFailedInput struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

type ExtractPDFTextInput struct {
	Path string `json:"path"`
}

type ExtractPDFTextOutput struct {
	Text       string `json:"text"`
	FileSHA256 string `json:"file_sha256"`
}

type ExtractTxtInput struct {
	Path string `json:"path"`
}

type ExtractTxtOutput struct {
	Text       string `json:"text"`
	FileSHA256 string `json:"file_sha256"`
}

type ChunkSourceInput struct {
	DocType   string `json:"doc_type"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	ChunkSize int    `json:"chunk_size,omitempty"`
}

type ChunkSourceOutput struct {
	Chunks   []models.Chunk `json:"chunks"`
	Strategy string         `json:"strategy"`
}

type MergeSourcesInput struct {
	Table string             `json:"table"`
	A     merge.SourceRecord `json:"a"`
	B     merge.SourceRecord `json:"b"`
}

type MergeSourcesOutput struct {
	Merged merge.MergedDocument `json:"merged"`
}

type PersistMergedInput struct {
	Table  string               `json:"table"`
	DocID  string               `json:"doc_id"`
	Merged merge.MergedDocument `json:"merged"`
}

type PersistMergedOutput struct {
	ChunkCount int `json:"chunk_count"`
}
