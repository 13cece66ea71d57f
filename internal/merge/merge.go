// Package merge rebuilds the full op list of an entity's next version from
// its previous version and the ops of a new edit.
package merge

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"kgsink/internal/payload"
	"kgsink/internal/proposal"
	"kgsink/internal/store"
)

// ErrInvariant marks an entity whose recorded current version was never
// written or holds unreadable triples. Only that entity is affected.
var ErrInvariant = errors.New("merge invariant violated")

type VersionStore interface {
	CurrentVersion(ctx context.Context, entityID string) (store.CurrentVersion, bool, error)
	TriplesForVersion(ctx context.Context, versionID string) ([]store.Triple, error)
	VersionExists(ctx context.Context, versionID string) (bool, error)
}

type Merger struct {
	store       VersionStore
	concurrency int
}

func NewMerger(versions VersionStore, concurrency int) *Merger {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Merger{store: versions, concurrency: concurrency}
}

// Merge returns the op list of the entity's next version: the previous
// version's triples as SET ops followed by newOps. A previous version whose
// ops all deleted each other has no triples and contributes nothing.
func (m *Merger) Merge(ctx context.Context, entityID string, newOps []payload.Op, lastVersionID string) ([]payload.Op, error) {
	if lastVersionID == "" {
		return append([]payload.Op(nil), newOps...), nil
	}

	triples, err := m.store.TriplesForVersion(ctx, lastVersionID)
	if err != nil {
		return nil, fmt.Errorf("load version %s: %w", lastVersionID, err)
	}

	prior := make([]payload.Op, 0, len(triples)+len(newOps))
	for _, t := range triples {
		if t.EntityID != entityID {
			continue
		}
		valueType, ok := payload.ParseValueType(t.ValueType)
		if !ok {
			return nil, fmt.Errorf("entity %s version %s: stored value type %q: %w", entityID, lastVersionID, t.ValueType, ErrInvariant)
		}
		prior = append(prior, payload.SetOp(payload.Triple{
			Entity:    t.EntityID,
			Attribute: t.AttributeID,
			Value:     payload.Value{Type: valueType, Value: t.Value},
		}))
	}
	if len(prior) == 0 {
		exists, err := m.store.VersionExists(ctx, lastVersionID)
		if err != nil {
			return nil, fmt.Errorf("load version %s: %w", lastVersionID, err)
		}
		if !exists {
			return nil, fmt.Errorf("entity %s has current version %s that was never written: %w", entityID, lastVersionID, ErrInvariant)
		}
	}
	return append(prior, newOps...), nil
}

type EditInput struct {
	ProposalID string
	Ops        []payload.Op
}

// Merged is the outcome for one entity of an edit. Err is set only for
// invariant violations; Skipped marks a version that was already written.
type Merged struct {
	EntityID        string
	VersionID       string
	PreviousVersion string
	Ops             []payload.Op
	Triples         []payload.Triple
	Skipped         bool
	Err             error
}

// MergeEdit merges every entity touched by an edit, at most concurrency
// entities at a time. Results keep the order in which entities first
// appear in the edit. Store failures fail the whole edit.
func (m *Merger) MergeEdit(ctx context.Context, in EditInput) ([]Merged, error) {
	entities, opsByEntity := groupByEntity(in.Ops)
	results := make([]Merged, len(entities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, entityID := range entities {
		g.Go(func() error {
			res, err := m.mergeEntity(gctx, in.ProposalID, entityID, opsByEntity[entityID])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *Merger) mergeEntity(ctx context.Context, proposalID, entityID string, ops []payload.Op) (Merged, error) {
	res := Merged{EntityID: entityID, VersionID: proposal.VersionID(proposalID, entityID)}

	exists, err := m.store.VersionExists(ctx, res.VersionID)
	if err != nil {
		return Merged{}, fmt.Errorf("merge entity %s: %w", entityID, err)
	}
	if exists {
		res.Skipped = true
		return res, nil
	}

	current, ok, err := m.store.CurrentVersion(ctx, entityID)
	if err != nil {
		return Merged{}, fmt.Errorf("merge entity %s: %w", entityID, err)
	}
	if ok {
		res.PreviousVersion = current.VersionID
	}

	merged, err := m.Merge(ctx, entityID, ops, res.PreviousVersion)
	if errors.Is(err, ErrInvariant) {
		res.Err = err
		return res, nil
	}
	if err != nil {
		return Merged{}, fmt.Errorf("merge entity %s: %w", entityID, err)
	}
	res.Ops = merged
	res.Triples = Fold(merged)
	return res, nil
}

func groupByEntity(ops []payload.Op) ([]string, map[string][]payload.Op) {
	var order []string
	byEntity := map[string][]payload.Op{}
	for _, op := range ops {
		if _, ok := byEntity[op.Entity]; !ok {
			order = append(order, op.Entity)
		}
		byEntity[op.Entity] = append(byEntity[op.Entity], op)
	}
	return order, byEntity
}

// Fold applies ops in order. The last op for an (entity, attribute) pair
// wins and a delete removes the pair. Output is sorted by entity then
// attribute.
func Fold(ops []payload.Op) []payload.Triple {
	type key struct{ entity, attribute string }
	state := map[key]payload.Value{}
	for _, op := range ops {
		k := key{op.Entity, op.Attribute}
		switch op.Type {
		case payload.OpSetTriple:
			state[k] = op.Value
		case payload.OpDeleteTriple:
			delete(state, k)
		}
	}

	out := make([]payload.Triple, 0, len(state))
	for k, v := range state {
		out = append(out, payload.Triple{Entity: k.entity, Attribute: k.attribute, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].Attribute < out[j].Attribute
	})
	return out
}
