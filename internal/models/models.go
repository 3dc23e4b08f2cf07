package models

import "time"

// Corpus table identifiers used throughout request routing and storage.
const (
	TableKB       = "kb"
	TablePractice = "practice"
	TableBoth     = "both"
)

// LegalDocument is a statute, code article or court-practice record held in
// one of the two corpora. Rows are soft-deactivated via Active, never deleted.
type LegalDocument struct {
	DocID           string    `json:"doc_id"`
	Table           string    `json:"table"`
	Title           string    `json:"title"`
	ContentText     string    `json:"content_text"`
	DocType         string    `json:"doc_type"`
	Jurisdiction    string    `json:"jurisdiction,omitempty"`
	Category        string    `json:"category,omitempty"`
	CourtType       string    `json:"court_type,omitempty"`
	CaseNumber      string    `json:"case_number,omitempty"`
	AppliedArticles []string  `json:"applied_articles,omitempty"`
	Holdings        []string  `json:"holdings,omitempty"`
	Dispositive     string    `json:"dispositive,omitempty"`
	Outcome         string    `json:"outcome,omitempty"`
	DateAdopted     string    `json:"date_adopted,omitempty"`
	DateDecision    string    `json:"date_decision,omitempty"`
	SourceURL       string    `json:"source_url,omitempty"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Chunk is a slice of a LegalDocument's normalized text. ChunkIndex is
// zero-based and unique per parent; ContentHash is content-addressed so
// re-chunking unchanged text is detectable without comparing bodies.
type Chunk struct {
	ChunkID     string    `json:"chunk_id"`
	Table       string    `json:"table"`
	DocID       string    `json:"doc_id"`
	ChunkIndex  int       `json:"chunk_index"`
	ChunkType   string    `json:"chunk_type"`
	CharStart   int       `json:"char_start"`
	CharEnd     int       `json:"char_end"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// ResultItem is one ranked retrieval hit. Transient, never persisted.
type ResultItem struct {
	DocID   string  `json:"id"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// RetrievalJob is one ingestion queue item. State lives in the jobs package
// FSM; Attempts counts processing failures against the retry budget.
type RetrievalJob struct {
	JobID     string    `json:"job_id"`
	Table     string    `json:"table"`
	DocID     string    `json:"doc_id"`
	State     string    `json:"state"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
