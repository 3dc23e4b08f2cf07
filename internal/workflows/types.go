package workflows

import "lexrag/internal/merge"

type BackfillInput struct {
	Table      string `json:"table"`
	ChunkSize  int    `json:"chunk_size,omitempty"`
	BatchLimit int    `json:"batch_limit,omitempty"`
	MaxBatches int    `json:"max_batches,omitempty"`
}

type BackfillProgress struct {
	Table          string `json:"table"`
	Batches        int    `json:"batches"`
	Processed      int    `json:"processed"`
	Skipped        int    `json:"skipped"`
	TotalRemaining int    `json:"total_remaining"`
}

type ProcessJobsInput struct {
	ClaimLimit int `json:"claim_limit,omitempty"`
	MaxRounds  int `json:"max_rounds,omitempty"`
}

type ProcessJobsProgress struct {
	Claimed int `json:"claimed"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
}

type SourceMergeInput struct {
	Table     string `json:"table"`
	DocID     string `json:"doc_id"`
	Title     string `json:"title"`
	DateAdopt string `json:"date_adopted,omitempty"`
	TxtPath   string `json:"txt_path"`
	PDFPath   string `json:"pdf_path"`
	SourceURL string `json:"source_url,omitempty"`
	ChunkSize int    `json:"chunk_size,omitempty"`
}

type SourceMergeResult struct {
	DocID      string `json:"doc_id"`
	MatchRule  string `json:"match_rule"`
	ChunkCount int    `json:"chunk_count"`
}

// sourceFromParts assembles the merge input records the extract activities
// produced. key is the hash of the original file bytes.
func sourceFromParts(fileName, mime, url, title, date, text, key string) merge.SourceRecord {
	return merge.SourceRecord{
		SourceKey:   key,
		FileName:    fileName,
		MimeType:    mime,
		SourceURL:   url,
		Title:       title,
		DateAdopted: date,
		ContentText: text,
	}
}
