package retrieval

import "lexrag/internal/models"

// rrfK dampens the rank contribution in reciprocal-rank fusion. 60 is the
// usual constant; it is an internal tunable, not part of the response
// contract.
const rrfK = 60

// fuse blends semantic and keyword rankings. The semantic order is
// authoritative: semantic hits keep their order, keyword-only hits follow in
// keyword order. The reciprocal-rank score is attached so callers can weigh
// documents against each other downstream.
func fuse(semantic, keyword []models.ResultItem) []models.ResultItem {
	scores := make(map[string]float64, len(semantic)+len(keyword))
	for rank, item := range semantic {
		scores[item.DocID] += 1.0 / float64(rrfK+rank+1)
	}
	for rank, item := range keyword {
		scores[item.DocID] += 1.0 / float64(rrfK+rank+1)
	}

	seen := make(map[string]bool, len(scores))
	out := make([]models.ResultItem, 0, len(scores))
	for _, item := range semantic {
		if seen[item.DocID] {
			continue
		}
		seen[item.DocID] = true
		item.Score = scores[item.DocID]
		out = append(out, item)
	}
	for _, item := range keyword {
		if seen[item.DocID] {
			continue
		}
		seen[item.DocID] = true
		item.Score = scores[item.DocID]
		out = append(out, item)
	}
	return out
}
