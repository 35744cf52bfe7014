package proposer

import "sort"

// AggregateFindings counts failure phrases across every case summary
// and returns the most common ones first, capped at max (spec.md §4.4
// calls for 3-6 findings).
func AggregateFindings(summaries []CaseSummary, max int) []string {
	counts := make(map[string]int)
	order := make([]string, 0)

	for _, s := range summaries {
		for _, f := range s.Failed {
			if counts[f] == 0 {
				order = append(order, f)
			}
			counts[f]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > max {
		order = order[:max]
	}
	return order
}
