package groundwork

import (
	"reflect"
	"testing"
	"time"
)

func mergeDoc(id string, updatedAt string, statement string) Document {
	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		panic(err)
	}
	doc := NewDocument("doc-"+id, "")
	doc.ID = id
	doc.Sections.Problem.Statement = statement
	doc.Progress = CalculateProgress(doc.Sections)
	doc.CreatedAt = ts
	doc.UpdatedAt = ts
	return doc
}

func mergeIDs(docs []Document) []string {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return ids
}

func TestMergeKeepsBothSidesWhenIDsAreDisjoint(t *testing.T) {
	local := []Document{mergeDoc("p1", "2024-01-01T00:00:00Z", "")}
	remote := []Document{mergeDoc("p2", "2024-01-02T00:00:00Z", "")}

	merged := Merge(local, remote, map[string]struct{}{})
	if got := mergeIDs(merged); !reflect.DeepEqual(got, []string{"p1", "p2"}) {
		t.Fatalf("expected p1 and p2, got %v", got)
	}
}

func TestMergeNewerRemoteWins(t *testing.T) {
	local := []Document{mergeDoc("p1", "2024-01-01T00:00:00Z", "old")}
	remote := []Document{mergeDoc("p1", "2024-01-03T00:00:00Z", "remote-edit")}

	merged := Merge(local, remote, map[string]struct{}{})
	if len(merged) != 1 {
		t.Fatalf("expected one document, got %d", len(merged))
	}
	if merged[0].Sections.Problem.Statement != "remote-edit" {
		t.Fatalf("expected remote version to win, got %q", merged[0].Sections.Problem.Statement)
	}
}

func TestMergeNewerLocalWins(t *testing.T) {
	local := []Document{mergeDoc("p1", "2024-01-03T00:00:00Z", "local-edit")}
	remote := []Document{mergeDoc("p1", "2024-01-01T00:00:00Z", "old")}

	merged := Merge(local, remote, map[string]struct{}{})
	if len(merged) != 1 {
		t.Fatalf("expected one document, got %d", len(merged))
	}
	if merged[0].Sections.Problem.Statement != "local-edit" {
		t.Fatalf("expected local version to win, got %q", merged[0].Sections.Problem.Statement)
	}
}

func TestMergeTieFavorsExisting(t *testing.T) {
	local := []Document{mergeDoc("p1", "2024-01-02T00:00:00Z", "local")}
	remote := []Document{mergeDoc("p1", "2024-01-02T00:00:00Z", "remote")}

	merged := Merge(local, remote, map[string]struct{}{})
	if len(merged) != 1 {
		t.Fatalf("expected one document, got %d", len(merged))
	}
	if merged[0].Sections.Problem.Statement != "local" {
		t.Fatalf("expected existing entry to survive a timestamp tie, got %q", merged[0].Sections.Problem.Statement)
	}
}

func TestMergeTombstoneSoundness(t *testing.T) {
	// A deleted ID must never reappear, even when both sides still carry a
	// fresh copy of it.
	local := []Document{
		mergeDoc("p1", "2024-06-01T00:00:00Z", ""),
		mergeDoc("dead", "2024-06-02T00:00:00Z", ""),
	}
	remote := []Document{
		mergeDoc("dead", "2024-06-03T00:00:00Z", ""),
		mergeDoc("p2", "2024-06-01T00:00:00Z", ""),
	}
	tombstones := map[string]struct{}{"dead": {}}

	merged := Merge(local, remote, tombstones)
	for _, doc := range merged {
		if doc.ID == "dead" {
			t.Fatalf("tombstoned document leaked into merge output")
		}
	}
	if got := mergeIDs(merged); !reflect.DeepEqual(got, []string{"p1", "p2"}) {
		t.Fatalf("expected p1 and p2, got %v", got)
	}
}

func TestMergeIdempotent(t *testing.T) {
	local := []Document{
		mergeDoc("a", "2024-02-01T00:00:00Z", "one"),
		mergeDoc("b", "2024-02-02T00:00:00Z", "two"),
	}
	remote := []Document{
		mergeDoc("a", "2024-02-03T00:00:00Z", "newer"),
		mergeDoc("c", "2024-02-01T00:00:00Z", "three"),
	}
	tombstones := map[string]struct{}{"b": {}}

	first := Merge(local, remote, tombstones)
	second := Merge(first, remote, tombstones)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("merge is not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestMergePairwiseWinnerIsOrderIndependent(t *testing.T) {
	a := mergeDoc("x", "2024-03-01T00:00:00Z", "older")
	b := mergeDoc("x", "2024-03-05T00:00:00Z", "newer")

	forward := Merge([]Document{a}, []Document{b}, map[string]struct{}{})
	backward := Merge([]Document{b}, []Document{a}, map[string]struct{}{})
	if len(forward) != 1 || len(backward) != 1 {
		t.Fatalf("expected single winners, got %d and %d", len(forward), len(backward))
	}
	if forward[0].Sections.Problem.Statement != backward[0].Sections.Problem.Statement {
		t.Fatalf("winner depends on argument order: %q vs %q",
			forward[0].Sections.Problem.Statement, backward[0].Sections.Problem.Statement)
	}
}

func TestMergeProducesNoDuplicateIDs(t *testing.T) {
	local := []Document{
		mergeDoc("a", "2024-04-01T00:00:00Z", ""),
		mergeDoc("b", "2024-04-01T00:00:00Z", ""),
	}
	remote := []Document{
		mergeDoc("a", "2024-04-02T00:00:00Z", ""),
		mergeDoc("b", "2024-03-30T00:00:00Z", ""),
		mergeDoc("c", "2024-04-01T00:00:00Z", ""),
	}

	merged := Merge(local, remote, map[string]struct{}{})
	seen := map[string]bool{}
	for _, doc := range merged {
		if seen[doc.ID] {
			t.Fatalf("duplicate ID %q in merge output", doc.ID)
		}
		seen[doc.ID] = true
	}
	if len(merged) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(merged))
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	local := []Document{mergeDoc("a", "2024-05-01T00:00:00Z", "local")}
	remote := []Document{mergeDoc("a", "2024-05-02T00:00:00Z", "remote")}
	localBefore := local[0].Clone()
	remoteBefore := remote[0].Clone()

	_ = Merge(local, remote, map[string]struct{}{"other": {}})

	if !reflect.DeepEqual(local[0], localBefore) {
		t.Fatalf("local input was mutated")
	}
	if !reflect.DeepEqual(remote[0], remoteBefore) {
		t.Fatalf("remote input was mutated")
	}
}
