package groundwork

import "sort"

// Merge reconciles the local and remote document sets under last-write-wins
// semantics. The local set is the base; a remote document replaces its local
// counterpart only when its UpdatedAt is strictly later, so an exact tie keeps
// the existing entry and avoids needless rewrites. Tombstoned IDs are filtered
// from both inputs: the tombstone ledger and the remote set are populated by
// different code paths and can transiently disagree, so the filter is applied
// defensively rather than asserted.
//
// Merge is pure: no I/O, no mutation of its inputs, and merging its own output
// with the same inputs returns the same set.
func Merge(local, remote []Document, tombstones map[string]struct{}) []Document {
	merged := make(map[string]Document, len(local)+len(remote))
	order := make([]string, 0, len(local)+len(remote))

	for _, doc := range local {
		if _, deleted := tombstones[doc.ID]; deleted {
			continue
		}
		if _, seen := merged[doc.ID]; !seen {
			order = append(order, doc.ID)
		}
		merged[doc.ID] = doc
	}

	for _, doc := range remote {
		if _, deleted := tombstones[doc.ID]; deleted {
			continue
		}
		existing, ok := merged[doc.ID]
		if !ok {
			merged[doc.ID] = doc
			order = append(order, doc.ID)
			continue
		}
		if doc.UpdatedAt.After(existing.UpdatedAt) {
			merged[doc.ID] = doc
		}
	}

	sort.Strings(order)
	result := make([]Document, 0, len(order))
	for _, id := range order {
		result = append(result, merged[id])
	}
	return result
}
