// Package plan implements the ordering policy for batch runs.
package plan

import (
	"sort"

	"github.com/upbatch/orchestrator/internal/domain"
)

// Order produces the execution order for a selection of update items:
// ordinary items first, platform-critical items (core, os, supervisor) last,
// alphabetical by display name within each rank. Output depends only on the
// item set, never on input order.
func Order(items []domain.UpdateItem) []string {
	sorted := make([]domain.UpdateItem, len(items))
	copy(sorted, items)

	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := categoryRank(sorted[i].Category), categoryRank(sorted[j].Category)
		if ri != rj {
			return ri < rj
		}
		if sorted[i].DisplayName != sorted[j].DisplayName {
			return sorted[i].DisplayName < sorted[j].DisplayName
		}
		// Names can collide across integrations; the id keeps the order total.
		return sorted[i].ID < sorted[j].ID
	})

	ids := make([]string, len(sorted))
	for i, item := range sorted {
		ids[i] = item.ID
	}
	return ids
}

func categoryRank(c domain.ItemCategory) int {
	if c.Critical() {
		return 1
	}
	return 0
}
