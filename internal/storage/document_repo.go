package storage

import (
	"context"
	"fmt"

	"lexrag/internal/models"
)

type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func tableName(table string) (string, error) {
	switch table {
	case models.TableKB:
		return "kb_documents", nil
	case models.TablePractice:
		return "practice_documents", nil
	default:
		return "", fmt.Errorf("unknown document table %q", table)
	}
}

func (r *DocumentRepo) Upsert(ctx context.Context, doc models.LegalDocument) error {
	switch doc.Table {
	case models.TableKB:
		_, err := r.db.Pool.Exec(ctx, `
INSERT INTO kb_documents (doc_id, title, content_text, doc_type, jurisdiction, category, date_adopted, source_url, active, updated_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), $9, NOW())
ON CONFLICT (doc_id)
DO UPDATE SET
  title = EXCLUDED.title,
  content_text = EXCLUDED.content_text,
  doc_type = EXCLUDED.doc_type,
  jurisdiction = EXCLUDED.jurisdiction,
  category = EXCLUDED.category,
  date_adopted = EXCLUDED.date_adopted,
  source_url = EXCLUDED.source_url,
  active = EXCLUDED.active,
  updated_at = NOW()`,
			doc.DocID, doc.Title, doc.ContentText, doc.DocType, doc.Jurisdiction,
			doc.Category, doc.DateAdopted, doc.SourceURL, doc.Active,
		)
		if err != nil {
			return fmt.Errorf("upsert kb document %s: %w", doc.DocID, err)
		}
		return nil
	case models.TablePractice:
		_, err := r.db.Pool.Exec(ctx, `
INSERT INTO practice_documents (doc_id, title, content_text, doc_type, jurisdiction, category, court_type, case_number, applied_articles, holdings, dispositive, outcome, date_decision, source_url, active, updated_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), $9, $10, NULLIF($11,''), NULLIF($12,''), NULLIF($13,''), NULLIF($14,''), $15, NOW())
ON CONFLICT (doc_id)
DO UPDATE SET
  title = EXCLUDED.title,
  content_text = EXCLUDED.content_text,
  doc_type = EXCLUDED.doc_type,
  jurisdiction = EXCLUDED.jurisdiction,
  category = EXCLUDED.category,
  court_type = EXCLUDED.court_type,
  case_number = EXCLUDED.case_number,
  applied_articles = EXCLUDED.applied_articles,
  holdings = EXCLUDED.holdings,
  dispositive = EXCLUDED.dispositive,
  outcome = EXCLUDED.outcome,
  date_decision = EXCLUDED.date_decision,
  source_url = EXCLUDED.source_url,
  active = EXCLUDED.active,
  updated_at = NOW()`,
			doc.DocID, doc.Title, doc.ContentText, doc.DocType, doc.Jurisdiction,
			doc.Category, doc.CourtType, doc.CaseNumber, doc.AppliedArticles, doc.Holdings,
			doc.Dispositive, doc.Outcome, doc.DateDecision, doc.SourceURL, doc.Active,
		)
		if err != nil {
			return fmt.Errorf("upsert practice document %s: %w", doc.DocID, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown document table %q", doc.Table)
	}
}

func (r *DocumentRepo) Get(ctx context.Context, table, docID string) (models.LegalDocument, error) {
	name, err := tableName(table)
	if err != nil {
		return models.LegalDocument{}, err
	}
	doc := models.LegalDocument{Table: table}
	if table == models.TableKB {
		err = r.db.Pool.QueryRow(ctx, `
SELECT doc_id, title, content_text, doc_type, jurisdiction,
       COALESCE(category,''), COALESCE(date_adopted,''), COALESCE(source_url,''), active, created_at, updated_at
FROM `+name+` WHERE doc_id=$1`, docID).Scan(
			&doc.DocID, &doc.Title, &doc.ContentText, &doc.DocType, &doc.Jurisdiction,
			&doc.Category, &doc.DateAdopted, &doc.SourceURL, &doc.Active, &doc.CreatedAt, &doc.UpdatedAt,
		)
	} else {
		err = r.db.Pool.QueryRow(ctx, `
SELECT doc_id, title, content_text, doc_type, jurisdiction,
       COALESCE(category,''), COALESCE(court_type,''), COALESCE(case_number,''),
       COALESCE(applied_articles,'{}'), COALESCE(holdings,'{}'),
       COALESCE(dispositive,''), COALESCE(outcome,''), COALESCE(date_decision,''),
       COALESCE(source_url,''), active, created_at, updated_at
FROM `+name+` WHERE doc_id=$1`, docID).Scan(
			&doc.DocID, &doc.Title, &doc.ContentText, &doc.DocType, &doc.Jurisdiction,
			&doc.Category, &doc.CourtType, &doc.CaseNumber, &doc.AppliedArticles, &doc.Holdings,
			&doc.Dispositive, &doc.Outcome, &doc.DateDecision, &doc.SourceURL, &doc.Active,
			&doc.CreatedAt, &doc.UpdatedAt,
		)
	}
	if err != nil {
		return models.LegalDocument{}, fmt.Errorf("get document %s/%s: %w", table, docID, err)
	}
	return doc, nil
}

// ListBackfillCandidates returns the most recently updated active documents.
// Callers over-fetch and filter out documents that already have chunks.
func (r *DocumentRepo) ListBackfillCandidates(ctx context.Context, table string, limit int) ([]models.LegalDocument, error) {
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT doc_id, title, content_text, doc_type, jurisdiction, COALESCE(category,'')
FROM `+name+`
WHERE active
ORDER BY updated_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list backfill candidates %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]models.LegalDocument, 0, limit)
	for rows.Next() {
		doc := models.LegalDocument{Table: table}
		if err := rows.Scan(&doc.DocID, &doc.Title, &doc.ContentText, &doc.DocType, &doc.Jurisdiction, &doc.Category); err != nil {
			return nil, fmt.Errorf("scan backfill candidate: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backfill candidates: %w", err)
	}
	return out, nil
}

// Deactivate soft-deletes a document so retrieval stops surfacing it while
// history stays queryable.
func (r *DocumentRepo) Deactivate(ctx context.Context, table, docID string) error {
	name, err := tableName(table)
	if err != nil {
		return err
	}
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE `+name+` SET active=FALSE, updated_at=NOW() WHERE doc_id=$1`, docID)
	if err != nil {
		return fmt.Errorf("deactivate document %s/%s: %w", table, docID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deactivate document %s/%s: not found", table, docID)
	}
	return nil
}
