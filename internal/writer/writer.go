// Package writer persists the versions produced by a content edit in one
// transaction.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"kgsink/internal/merge"
	"kgsink/internal/payload"
	"kgsink/internal/proposal"
	"kgsink/internal/search"
	"kgsink/internal/store"
)

type Store interface {
	WriteEdit(ctx context.Context, batch store.EditBatch) error
}

type Indexer interface {
	IndexEntities(ctx context.Context, docs []search.EntityDocument) error
	RemoveEntities(ctx context.Context, ids []string) error
}

type WriteInput struct {
	Space    store.Space
	Proposal *proposal.EditProposal
	// BlockIndex is the proposal's position among the block's created
	// proposals; versions are ordered by (block, BlockIndex).
	BlockIndex       int
	Versions         []store.Version
	TriplesByVersion map[string][]payload.Triple
}

type Writer struct {
	store         Store
	indexer       Indexer
	nameAttribute string
}

func New(s Store, indexer Indexer, nameAttribute string) *Writer {
	if nameAttribute == "" {
		nameAttribute = "name"
	}
	return &Writer{store: s, indexer: indexer, nameAttribute: nameAttribute}
}

// Input builds the write for an edit proposal from its merge results.
// Skipped and failed entities are left out.
func Input(space store.Space, p *proposal.EditProposal, blockIndex int, merged []merge.Merged) WriteInput {
	in := WriteInput{
		Space:            space,
		Proposal:         p,
		BlockIndex:       blockIndex,
		TriplesByVersion: map[string][]payload.Triple{},
	}
	for _, m := range merged {
		if m.Skipped || m.Err != nil {
			continue
		}
		in.Versions = append(in.Versions, store.Version{
			ID:             m.VersionID,
			EntityID:       m.EntityID,
			EditID:         p.ID,
			SpaceID:        space.ID,
			CreatedByID:    p.Creator,
			CreatedAt:      p.CreatedAt,
			CreatedAtBlock: p.CreatedAtBlock,
			BlockIndex:     blockIndex,
		})
		in.TriplesByVersion[m.VersionID] = m.Triples
	}
	return in
}

// Write commits the proposal, its edit and every version atomically. It is
// safe to call again with the same input.
func (w *Writer) Write(ctx context.Context, in WriteInput) (int, error) {
	if in.Proposal == nil {
		return 0, errors.New("write edit: nil proposal")
	}
	p := in.Proposal
	batch := store.EditBatch{
		Accounts: proposal.Accounts(p),
		Proposal: proposal.Row(p),
		Edit: store.Edit{
			ID:             p.ID,
			Name:           p.Name,
			SpaceID:        in.Space.ID,
			ProposalID:     p.ID,
			Authors:        p.Authors,
			CreatedAt:      p.CreatedAt,
			CreatedAtBlock: p.CreatedAtBlock,
		},
	}

	var docs []search.EntityDocument
	var emptied []string
	for _, v := range in.Versions {
		triples := in.TriplesByVersion[v.ID]
		name := w.nameOf(v.EntityID, triples)
		batch.Entities = append(batch.Entities, store.Entity{
			ID:             v.EntityID,
			Name:           name,
			CreatedByID:    v.CreatedByID,
			CreatedAt:      v.CreatedAt,
			CreatedAtBlock: v.CreatedAtBlock,
			UpdatedAt:      v.CreatedAt,
			UpdatedAtBlock: v.CreatedAtBlock,
		})
		batch.Versions = append(batch.Versions, v)
		for _, t := range triples {
			if t.Entity != v.EntityID {
				continue
			}
			batch.Triples = append(batch.Triples, store.Triple{
				VersionID:   v.ID,
				SpaceID:     in.Space.ID,
				EntityID:    t.Entity,
				AttributeID: t.Attribute,
				ValueType:   t.Value.Type.String(),
				Value:       t.Value.Value,
			})
		}
		batch.Pointers = append(batch.Pointers, store.CurrentVersion{
			EntityID:       v.EntityID,
			VersionID:      v.ID,
			CreatedAtBlock: v.CreatedAtBlock,
			BlockIndex:     v.BlockIndex,
		})
		if len(triples) == 0 {
			emptied = append(emptied, v.EntityID)
			continue
		}
		docs = append(docs, search.EntityDocument{
			ID:        v.EntityID,
			Name:      name,
			SpaceID:   in.Space.ID,
			VersionID: v.ID,
			Block:     v.CreatedAtBlock,
		})
	}

	if err := w.store.WriteEdit(ctx, batch); err != nil {
		return 0, fmt.Errorf("write edit %s: %w", p.ID, err)
	}

	if w.indexer != nil {
		if err := w.indexer.RemoveEntities(ctx, emptied); err != nil {
			log.Printf("writer: remove entities failed proposal=%s err=%v", p.ID, err)
		}
		if err := w.indexer.IndexEntities(ctx, docs); err != nil {
			log.Printf("writer: index entities failed proposal=%s err=%v", p.ID, err)
		}
	}
	return len(batch.Versions), nil
}

func (w *Writer) nameOf(entityID string, triples []payload.Triple) string {
	for _, t := range triples {
		if t.Entity == entityID && t.Attribute == w.nameAttribute {
			return t.Value.Value
		}
	}
	return ""
}
