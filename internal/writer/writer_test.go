package writer

import (
	"context"
	"errors"
	"testing"
	"time"

	"kgsink/internal/merge"
	"kgsink/internal/payload"
	"kgsink/internal/proposal"
	"kgsink/internal/search"
	"kgsink/internal/store"
)

type fakeStore struct {
	writeEdit func(ctx context.Context, batch store.EditBatch) error
	batches   []store.EditBatch
}

func (f *fakeStore) WriteEdit(ctx context.Context, batch store.EditBatch) error {
	f.batches = append(f.batches, batch)
	if f.writeEdit != nil {
		return f.writeEdit(ctx, batch)
	}
	return nil
}

type fakeIndexer struct {
	docs    []search.EntityDocument
	removed []string
}

func (f *fakeIndexer) IndexEntities(_ context.Context, docs []search.EntityDocument) error {
	f.docs = append(f.docs, docs...)
	return nil
}

func (f *fakeIndexer) RemoveEntities(_ context.Context, ids []string) error {
	f.removed = append(f.removed, ids...)
	return nil
}

func editProposal() *proposal.EditProposal {
	at := time.Unix(1700000000, 0).UTC()
	return &proposal.EditProposal{
		Base: proposal.Base{
			ID:                "p1",
			OnchainProposalID: "7",
			PluginAddress:     "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
			SpaceID:           "space-1",
			Type:              payload.ActionAddEdit,
			Name:              "Rename",
			Creator:           "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
			CreatedAt:         at,
			CreatedAtBlock:    50,
			StartTime:         at,
			EndTime:           at.Add(time.Hour),
		},
		Authors: []string{"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb"},
	}
}

func text(entity, attribute, value string) payload.Triple {
	return payload.Triple{Entity: entity, Attribute: attribute, Value: payload.Value{Type: payload.ValueText, Value: value}}
}

func TestInputSkipsWrittenAndBrokenEntities(t *testing.T) {
	p := editProposal()
	in := Input(store.Space{ID: "space-1"}, p, 3, []merge.Merged{
		{EntityID: "a", VersionID: "va", Triples: []payload.Triple{text("a", "name", "A")}},
		{EntityID: "b", VersionID: "vb", Skipped: true},
		{EntityID: "c", VersionID: "vc", Err: merge.ErrInvariant},
	})

	if len(in.Versions) != 1 || in.Versions[0].ID != "va" {
		t.Fatalf("expected only va, got %+v", in.Versions)
	}
	v := in.Versions[0]
	if v.BlockIndex != 3 || v.CreatedAtBlock != 50 || v.EditID != "p1" || v.CreatedByID != p.Creator {
		t.Fatalf("unexpected version %+v", v)
	}
}

func TestWriteBuildsAtomicBatch(t *testing.T) {
	fs := &fakeStore{}
	idx := &fakeIndexer{}
	w := New(fs, idx, "")
	p := editProposal()
	in := Input(store.Space{ID: "space-1"}, p, 0, []merge.Merged{
		{EntityID: "a", VersionID: "va", Triples: []payload.Triple{text("a", "age", "30"), text("a", "name", "Alice")}},
		{EntityID: "b", VersionID: "vb", Triples: []payload.Triple{{Entity: "b", Attribute: "friend", Value: payload.Value{Type: payload.ValueEntity, Value: "a"}}}},
	})

	n, err := w.Write(context.Background(), in)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 versions, got %d", n)
	}
	if len(fs.batches) != 1 {
		t.Fatalf("expected a single batch, got %d", len(fs.batches))
	}
	batch := fs.batches[0]
	if batch.Proposal.ID != "p1" || batch.Proposal.Type != "ADD_EDIT" || batch.Proposal.Status != store.StatusProposed {
		t.Fatalf("unexpected proposal row %+v", batch.Proposal)
	}
	if batch.Edit.ID != "p1" || batch.Edit.SpaceID != "space-1" || len(batch.Edit.Authors) != 1 {
		t.Fatalf("unexpected edit row %+v", batch.Edit)
	}
	if len(batch.Accounts) != 2 {
		t.Fatalf("expected creator and author accounts, got %+v", batch.Accounts)
	}
	if len(batch.Triples) != 3 || batch.Triples[2].ValueType != "ENTITY" {
		t.Fatalf("unexpected triples %+v", batch.Triples)
	}
	if batch.Entities[0].Name != "Alice" || batch.Entities[1].Name != "" {
		t.Fatalf("expected name from name attribute, got %+v", batch.Entities)
	}
	if len(batch.Pointers) != 2 || batch.Pointers[0].VersionID != "va" {
		t.Fatalf("unexpected pointers %+v", batch.Pointers)
	}
	if len(idx.docs) != 2 || idx.docs[0].Name != "Alice" {
		t.Fatalf("expected indexed documents after commit, got %+v", idx.docs)
	}
}

func TestWriteEmptiedEntityKeepsVersionAndLeavesIndex(t *testing.T) {
	fs := &fakeStore{}
	idx := &fakeIndexer{}
	w := New(fs, idx, "name")
	in := Input(store.Space{ID: "space-1"}, editProposal(), 0, []merge.Merged{
		{EntityID: "a", VersionID: "va", PreviousVersion: "va0"},
		{EntityID: "b", VersionID: "vb", Triples: []payload.Triple{text("b", "name", "B")}},
	})

	n, err := w.Write(context.Background(), in)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected both versions written, got %d", n)
	}
	batch := fs.batches[0]
	if len(batch.Pointers) != 2 || batch.Pointers[0].VersionID != "va" {
		t.Fatalf("expected pointer to the empty version, got %+v", batch.Pointers)
	}
	if len(batch.Triples) != 1 || batch.Triples[0].EntityID != "b" {
		t.Fatalf("unexpected triples %+v", batch.Triples)
	}
	if len(idx.removed) != 1 || idx.removed[0] != "a" {
		t.Fatalf("expected a removed from index, got %v", idx.removed)
	}
	if len(idx.docs) != 1 || idx.docs[0].ID != "b" {
		t.Fatalf("expected only b indexed, got %+v", idx.docs)
	}
}

func TestWriteFailureSkipsIndexing(t *testing.T) {
	fs := &fakeStore{writeEdit: func(context.Context, store.EditBatch) error {
		return errors.New("serialization failure")
	}}
	idx := &fakeIndexer{}
	w := New(fs, idx, "name")
	in := Input(store.Space{ID: "space-1"}, editProposal(), 0, []merge.Merged{
		{EntityID: "a", VersionID: "va", Triples: []payload.Triple{text("a", "name", "A")}},
	})

	if _, err := w.Write(context.Background(), in); err == nil {
		t.Fatal("expected write error")
	}
	if len(idx.docs) != 0 || len(idx.removed) != 0 {
		t.Fatalf("expected nothing indexed, got %+v", idx.docs)
	}
}

func TestWriteCustomNameAttribute(t *testing.T) {
	fs := &fakeStore{}
	w := New(fs, nil, "LuIwJZYRJT2YUNWbp2DmVf")
	in := Input(store.Space{ID: "space-1"}, editProposal(), 0, []merge.Merged{
		{EntityID: "a", VersionID: "va", Triples: []payload.Triple{text("a", "LuIwJZYRJT2YUNWbp2DmVf", "Named"), text("a", "name", "ignored")}},
	})

	if _, err := w.Write(context.Background(), in); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := fs.batches[0].Entities[0].Name; got != "Named" {
		t.Fatalf("expected configured name attribute, got %q", got)
	}
}

func TestWriteRejectsNilProposal(t *testing.T) {
	if _, err := New(&fakeStore{}, nil, "").Write(context.Background(), WriteInput{}); err == nil {
		t.Fatal("expected error for nil proposal")
	}
}
