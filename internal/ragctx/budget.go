package ragctx

import (
	"sort"
	"unicode/utf8"
)

// Section is one competing slice of model context: user-supplied facts,
// retrieved legislation, or retrieved practice. Weight scales the relevance
// score when sections fight over budget.
type Section struct {
	Name   string
	Text   string
	Score  float64
	Weight float64
}

// AllocateBudget trims sections until their combined rune count fits the
// budget. The lowest weighted-score section loses content first; a section
// is dropped entirely once trimmed to nothing. Input order is preserved in
// the output.
func AllocateBudget(sections []Section, budgetChars int) []Section {
	if budgetChars <= 0 {
		return nil
	}
	out := make([]Section, len(sections))
	copy(out, sections)

	total := 0
	for _, s := range out {
		total += utf8.RuneCountInString(s.Text)
	}
	if total <= budgetChars {
		return out
	}

	// Trim order: ascending weighted score.
	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return weighted(out[order[a]]) < weighted(out[order[b]])
	})

	over := total - budgetChars
	for _, idx := range order {
		if over <= 0 {
			break
		}
		runes := []rune(out[idx].Text)
		if len(runes) <= over {
			over -= len(runes)
			out[idx].Text = ""
			continue
		}
		out[idx].Text = string(runes[:len(runes)-over])
		over = 0
	}

	kept := out[:0]
	for _, s := range out {
		if s.Text != "" {
			kept = append(kept, s)
		}
	}
	return kept
}

func weighted(s Section) float64 {
	w := s.Weight
	if w <= 0 {
		w = 1
	}
	return s.Score * w
}
