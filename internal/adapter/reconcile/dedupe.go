package reconcile

import (
	"sort"

	"annotator/internal/domain"
)

// DuplicateOverlapRatio is the share of either span that must be covered
// before two same-label entities count as the same annotation. Tunable.
const DuplicateOverlapRatio = 0.8

type Deduplicator struct {
	ratio float64
}

func NewDeduplicator(ratio float64) *Deduplicator {
	if ratio <= 0 || ratio > 1 {
		ratio = DuplicateOverlapRatio
	}
	return &Deduplicator{ratio: ratio}
}

// Dedupe merges entities reported twice by overlapping chunks. Of a duplicate
// pair the higher confidence survives; on a tie the earlier one is kept.
// Entities with different labels are never merged. Passes repeat until
// nothing merges, so the result is a fixed point.
func (d *Deduplicator) Dedupe(entities []domain.Entity) []domain.Entity {
	if len(entities) == 0 {
		return nil
	}

	current := sortedCopy(entities)
	for {
		next, merged := d.pass(current)
		current = sortedCopy(next)
		if !merged {
			return current
		}
	}
}

func (d *Deduplicator) pass(sorted []domain.Entity) ([]domain.Entity, bool) {
	accepted := make([]domain.Entity, 0, len(sorted))
	merged := false

	for _, candidate := range sorted {
		dup := -1
		for j := range accepted {
			if d.isDuplicate(candidate, accepted[j]) {
				dup = j
				break
			}
		}
		if dup < 0 {
			accepted = append(accepted, candidate)
			continue
		}
		merged = true
		if candidate.Score() > accepted[dup].Score() {
			accepted[dup] = candidate
		}
	}
	return accepted, merged
}

func (d *Deduplicator) isDuplicate(a, b domain.Entity) bool {
	if a.Label != b.Label {
		return false
	}
	overlap := overlapLen(a, b)
	if overlap <= 0 {
		return false
	}
	if la := a.Len(); la > 0 && float64(overlap)/float64(la) > d.ratio {
		return true
	}
	if lb := b.Len(); lb > 0 && float64(overlap)/float64(lb) > d.ratio {
		return true
	}
	return false
}

func overlapLen(a, b domain.Entity) int {
	start := max(a.StartChar, b.StartChar)
	end := min(a.EndChar, b.EndChar)
	return end - start
}

func sortedCopy(entities []domain.Entity) []domain.Entity {
	out := make([]domain.Entity, len(entities))
	copy(out, entities)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartChar != out[j].StartChar {
			return out[i].StartChar < out[j].StartChar
		}
		return out[i].EndChar < out[j].EndChar
	})
	return out
}
