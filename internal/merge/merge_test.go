package merge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kgsink/internal/payload"
	"kgsink/internal/proposal"
	"kgsink/internal/store"
)

type fakeVersions struct {
	mu       sync.Mutex
	current  map[string]store.CurrentVersion
	triples  map[string][]store.Triple
	existing map[string]bool
	err      error

	inflight atomic.Int32
	peak     atomic.Int32
}

func newFakeVersions() *fakeVersions {
	return &fakeVersions{
		current:  map[string]store.CurrentVersion{},
		triples:  map[string][]store.Triple{},
		existing: map[string]bool{},
	}
}

func (f *fakeVersions) CurrentVersion(_ context.Context, entityID string) (store.CurrentVersion, bool, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return store.CurrentVersion{}, false, f.err
	}
	cv, ok := f.current[entityID]
	return cv, ok, nil
}

func (f *fakeVersions) TriplesForVersion(_ context.Context, versionID string) ([]store.Triple, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triples[versionID], nil
}

func (f *fakeVersions) VersionExists(_ context.Context, versionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[versionID], nil
}

func set(entity, attribute, value string) payload.Op {
	return payload.Op{Type: payload.OpSetTriple, Entity: entity, Attribute: attribute, Value: payload.Value{Type: payload.ValueText, Value: value}}
}

func del(entity, attribute string) payload.Op {
	return payload.Op{Type: payload.OpDeleteTriple, Entity: entity, Attribute: attribute}
}

func tripleMap(triples []payload.Triple) map[string]string {
	out := map[string]string{}
	for _, t := range triples {
		out[t.Entity+"/"+t.Attribute] = t.Value.Value
	}
	return out
}

func TestMergeWithoutPriorVersion(t *testing.T) {
	m := NewMerger(newFakeVersions(), 2)
	ops := []payload.Op{set("E", "name", "Alice")}

	got, err := m.Merge(context.Background(), "E", ops, "")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(got) != 1 || got[0] != ops[0] {
		t.Fatalf("expected new ops unchanged, got %+v", got)
	}
}

func TestMergeFoldOverridesAndAdds(t *testing.T) {
	versions := newFakeVersions()
	versions.triples["v1"] = []store.Triple{{VersionID: "v1", EntityID: "E", AttributeID: "name", ValueType: "TEXT", Value: "Alice"}}
	m := NewMerger(versions, 2)

	got, err := m.Merge(context.Background(), "E", []payload.Op{set("E", "name", "Bob"), set("E", "age", "30")}, "v1")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got[0].Value.Value != "Alice" {
		t.Fatalf("expected prior ops first, got %+v", got)
	}

	folded := tripleMap(Fold(got))
	want := map[string]string{"E/name": "Bob", "E/age": "30"}
	if len(folded) != len(want) {
		t.Fatalf("expected %v, got %v", want, folded)
	}
	for k, v := range want {
		if folded[k] != v {
			t.Fatalf("expected %s=%s, got %v", k, v, folded)
		}
	}
}

func TestMergeDeleteRemovesTriple(t *testing.T) {
	versions := newFakeVersions()
	versions.triples["v1"] = []store.Triple{
		{VersionID: "v1", EntityID: "E", AttributeID: "age", ValueType: "NUMBER", Value: "30"},
		{VersionID: "v1", EntityID: "E", AttributeID: "name", ValueType: "TEXT", Value: "Alice"},
	}
	m := NewMerger(versions, 2)

	got, err := m.Merge(context.Background(), "E", []payload.Op{del("E", "age")}, "v1")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	folded := tripleMap(Fold(got))
	if _, ok := folded["E/age"]; ok {
		t.Fatalf("expected age deleted, got %v", folded)
	}
	if folded["E/name"] != "Alice" {
		t.Fatalf("expected name kept, got %v", folded)
	}
}

func TestMergeInvariantViolation(t *testing.T) {
	m := NewMerger(newFakeVersions(), 2)
	if _, err := m.Merge(context.Background(), "E", []payload.Op{set("E", "a", "b")}, "missing"); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}

func TestMergeAfterEmptiedVersion(t *testing.T) {
	versions := newFakeVersions()
	versions.existing["v2"] = true
	m := NewMerger(versions, 2)

	got, err := m.Merge(context.Background(), "E", []payload.Op{set("E", "name", "Bob")}, "v2")
	if err != nil {
		t.Fatalf("expected a written version without triples to merge, got %v", err)
	}
	if folded := tripleMap(Fold(got)); len(folded) != 1 || folded["E/name"] != "Bob" {
		t.Fatalf("unexpected fold %v", folded)
	}
}

func TestMergeEditDeletingLastTriple(t *testing.T) {
	versions := newFakeVersions()
	versions.current["E"] = store.CurrentVersion{EntityID: "E", VersionID: "v1"}
	versions.existing["v1"] = true
	versions.triples["v1"] = []store.Triple{{VersionID: "v1", EntityID: "E", AttributeID: "age", ValueType: "NUMBER", Value: "30"}}
	m := NewMerger(versions, 2)

	results, err := m.MergeEdit(context.Background(), EditInput{
		ProposalID: "p2",
		Ops:        []payload.Op{del("E", "age"), del("G", "name")},
	})
	if err != nil {
		t.Fatalf("merge edit: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected two results, got %+v", results)
	}
	for _, res := range results {
		if res.Err != nil || res.Skipped {
			t.Fatalf("expected a clean result for %s, got %+v", res.EntityID, res)
		}
		if len(res.Triples) != 0 {
			t.Fatalf("expected no triples for %s, got %+v", res.EntityID, res.Triples)
		}
	}
	if results[0].PreviousVersion != "v1" || results[1].PreviousVersion != "" {
		t.Fatalf("unexpected previous versions %+v", results)
	}
}

func TestFoldIsDeterministic(t *testing.T) {
	ops := []payload.Op{set("B", "x", "1"), set("A", "y", "2"), set("A", "x", "3"), set("A", "x", "4")}
	first := Fold(ops)
	for i := 0; i < 20; i++ {
		again := Fold(ops)
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("fold output differs between runs: %+v vs %+v", first, again)
			}
		}
	}
	if first[0].Entity != "A" || first[0].Attribute != "x" || first[0].Value.Value != "4" {
		t.Fatalf("unexpected fold order %+v", first)
	}
}

func TestMergeEditGroupsEntitiesAndIsolatesInvariant(t *testing.T) {
	versions := newFakeVersions()
	versions.current["broken"] = store.CurrentVersion{EntityID: "broken", VersionID: "vb"}
	versions.current["E"] = store.CurrentVersion{EntityID: "E", VersionID: "v1"}
	versions.triples["v1"] = []store.Triple{{VersionID: "v1", EntityID: "E", AttributeID: "name", ValueType: "TEXT", Value: "Alice"}}
	m := NewMerger(versions, 4)

	results, err := m.MergeEdit(context.Background(), EditInput{
		ProposalID: "p1",
		Ops: []payload.Op{
			set("E", "age", "30"),
			set("broken", "name", "x"),
			set("F", "name", "Fresh"),
			set("E", "name", "Bob"),
		},
	})
	if err != nil {
		t.Fatalf("merge edit: %v", err)
	}
	if len(results) != 3 || results[0].EntityID != "E" || results[1].EntityID != "broken" || results[2].EntityID != "F" {
		t.Fatalf("unexpected result order %+v", results)
	}
	if !errors.Is(results[1].Err, ErrInvariant) {
		t.Fatalf("expected invariant error for broken entity, got %v", results[1].Err)
	}
	if results[0].PreviousVersion != "v1" || results[0].VersionID != proposal.VersionID("p1", "E") {
		t.Fatalf("unexpected E result %+v", results[0])
	}
	if got := tripleMap(results[0].Triples); got["E/name"] != "Bob" || got["E/age"] != "30" {
		t.Fatalf("unexpected E triples %v", got)
	}
	if results[2].Err != nil || len(results[2].Triples) != 1 {
		t.Fatalf("unexpected F result %+v", results[2])
	}
}

func TestMergeEditSkipsWrittenVersions(t *testing.T) {
	versions := newFakeVersions()
	versions.existing[proposal.VersionID("p1", "E")] = true
	m := NewMerger(versions, 2)

	results, err := m.MergeEdit(context.Background(), EditInput{ProposalID: "p1", Ops: []payload.Op{set("E", "name", "x")}})
	if err != nil {
		t.Fatalf("merge edit: %v", err)
	}
	if !results[0].Skipped || results[0].Triples != nil {
		t.Fatalf("expected skipped result, got %+v", results[0])
	}
}

func TestMergeEditBoundsConcurrency(t *testing.T) {
	versions := newFakeVersions()
	m := NewMerger(versions, 3)
	var ops []payload.Op
	for _, e := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		ops = append(ops, set(e, "name", e))
	}

	if _, err := m.MergeEdit(context.Background(), EditInput{ProposalID: "p", Ops: ops}); err != nil {
		t.Fatalf("merge edit: %v", err)
	}
	if peak := versions.peak.Load(); peak > 3 {
		t.Fatalf("expected at most 3 concurrent merges, saw %d", peak)
	}
}

func TestMergeEditStoreFailure(t *testing.T) {
	versions := newFakeVersions()
	versions.err = errors.New("connection reset")
	m := NewMerger(versions, 2)

	if _, err := m.MergeEdit(context.Background(), EditInput{ProposalID: "p", Ops: []payload.Op{set("E", "a", "b")}}); err == nil {
		t.Fatal("expected store failure to fail the edit")
	}
}
