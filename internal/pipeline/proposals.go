package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"kgsink/internal/events"
	"kgsink/internal/merge"
	"kgsink/internal/payload"
	"kgsink/internal/proposal"
	"kgsink/internal/resolver"
	"kgsink/internal/store"
	"kgsink/internal/writer"
)

// prepared is a created proposal that made it through resolve, fetch,
// decode and map. Nothing has been written for it yet.
type prepared struct {
	index    int
	proposal proposal.Proposal
	space    store.Space
	outcome  Outcome
}

// handleProposalsCreated prepares every created proposal concurrently and
// then writes them one at a time in event order, so two edits of the same
// entity in one block chain onto each other.
func (p *Pipeline) handleProposalsCreated(ctx context.Context, r *run) {
	created := r.block.ProposalsCreated
	if len(created) == 0 {
		return
	}
	results := make([]prepared, len(created))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, ev := range created {
		g.Go(func() error {
			results[i] = p.prepare(gctx, r, i, ev)
			return nil
		})
	}
	// prepare never returns an error; failures live in each outcome.
	_ = g.Wait()

	for _, res := range results {
		if res.outcome.Stage != StageMapping || res.proposal == nil {
			p.fail(r, res.outcome)
			continue
		}
		out := p.write(ctx, r, res)
		if out.Failed() {
			p.fail(r, out)
			continue
		}
		r.add(out)
	}
}

func (p *Pipeline) prepare(ctx context.Context, r *run, index int, ev events.ProposalCreated) prepared {
	p.recorder.Event(string(events.KindProposalCreated))
	res := prepared{index: index, outcome: Outcome{
		Kind:  events.KindProposalCreated,
		Index: index,
		Key:   ev.PluginAddress + ":" + ev.ProposalID,
		Stage: StageResolving,
	}}
	fail := func(stage Stage, reason string, err error) prepared {
		res.outcome.Stage, res.outcome.Reason, res.outcome.Err = stage, reason, err
		return res
	}

	lookup, err := p.lookup(ctx, ev.PluginAddress)
	if err != nil {
		return fail(StageResolving, resolveReason(err), err)
	}

	body, err := p.fetch(ctx, r, ev.MetadataURI)
	if err != nil {
		return fail(StageFetching, fetchReason(err), fmt.Errorf("fetch %s: %w", ev.MetadataURI, err))
	}

	env, err := payload.DecodeEnvelope(body)
	if err != nil {
		return fail(StageDecoding, decodeReason(err), fmt.Errorf("decode %s: %w", ev.MetadataURI, err))
	}
	decoded, err := payload.Decode(body, env.Type)
	if err != nil {
		return fail(StageDecoding, decodeReason(err), fmt.Errorf("decode %s: %w", ev.MetadataURI, err))
	}

	mapped, err := p.mapper.Map(ctx, proposal.Created{
		ProposalCreated: ev,
		BlockNumber:     r.block.Number,
		BlockTimestamp:  r.block.Timestamp,
	}, lookup, decoded)
	if err != nil {
		return fail(StageMapping, resolveReason(err), err)
	}
	if mapped == nil {
		return fail(StageMapping, ReasonDropped, fmt.Errorf("proposal %s of type %s dropped", ev.ProposalID, env.Type))
	}

	res.proposal = mapped
	res.outcome.Stage = StageMapping
	res.outcome.Key = mapped.Common().ID
	if lookup.Voting != nil {
		res.space = *lookup.Voting
	}
	return res
}

// lookup resolves the proposal's plugin as a voting and as a membership
// plugin. A plugin that is neither is an unknown space.
func (p *Pipeline) lookup(ctx context.Context, plugin string) (proposal.Lookup, error) {
	var lookup proposal.Lookup
	voting, err := p.resolver.ForVotingPlugin(ctx, plugin)
	switch {
	case err == nil:
		lookup.Voting = &voting
	case !errors.Is(err, resolver.ErrSpaceNotFound):
		return lookup, err
	}
	membership, err := p.resolver.ForMembershipPlugin(ctx, plugin)
	switch {
	case err == nil:
		lookup.Membership = &membership
	case !errors.Is(err, resolver.ErrSpaceNotFound):
		return lookup, err
	}
	if lookup.Voting == nil && lookup.Membership == nil {
		return lookup, fmt.Errorf("no space for plugin %s: %w", plugin, resolver.ErrSpaceNotFound)
	}
	return lookup, nil
}

// write persists a prepared proposal. Failures are returned in the outcome.
func (p *Pipeline) write(ctx context.Context, r *run, res prepared) Outcome {
	out := res.outcome
	if edit, ok := res.proposal.(*proposal.EditProposal); ok {
		return p.writeEdit(ctx, r, res.index, res.space, edit, out)
	}

	out.Stage = StageWriting
	row := proposal.Row(res.proposal)
	err := p.withRetry(ctx, r, StageWriting, func(ctx context.Context) error {
		return p.store.WriteProposal(ctx, proposal.Accounts(res.proposal), row)
	})
	if err != nil {
		out.Reason, out.Err = writeReason(err), err
		return out
	}
	p.recorder.ProposalWritten(row.Type)
	r.report.ProposalsWritten++
	out.Stage = StageDone
	return out
}

func (p *Pipeline) writeEdit(ctx context.Context, r *run, blockIndex int, space store.Space, edit *proposal.EditProposal, out Outcome) Outcome {
	ops := make([]payload.Op, len(edit.Ops))
	for i, op := range edit.Ops {
		ops[i] = op.Op
	}

	out.Stage = StageMerging
	var merged []merge.Merged
	err := p.withRetry(ctx, r, StageMerging, func(ctx context.Context) error {
		m, err := p.merger.MergeEdit(ctx, merge.EditInput{ProposalID: edit.ID, Ops: ops})
		if err != nil {
			return err
		}
		merged = m
		return nil
	})
	if err != nil {
		out.Reason, out.Err = writeReason(err), err
		return out
	}
	for _, m := range merged {
		if m.Err != nil {
			p.recorder.InvariantViolation(r.requestID, m.EntityID, m.Err)
			r.report.InvariantViolations = append(r.report.InvariantViolations, m.EntityID)
		}
	}

	out.Stage = StageWriting
	in := writer.Input(space, edit, blockIndex, merged)
	var written int
	err = p.withRetry(ctx, r, StageWriting, func(ctx context.Context) error {
		n, err := p.writer.Write(ctx, in)
		written = n
		return err
	})
	if err != nil {
		out.Reason, out.Err = writeReason(err), err
		return out
	}
	if !replayed(merged) {
		p.recorder.ProposalWritten(edit.Type.String())
		r.report.ProposalsWritten++
	}
	p.recorder.VersionsWritten(written)
	r.report.VersionsWritten += written
	out.Stage = StageDone
	return out
}

// replayed reports whether every entity of an edit was already written by an
// earlier delivery.
func replayed(merged []merge.Merged) bool {
	for _, m := range merged {
		if !m.Skipped {
			return false
		}
	}
	return len(merged) > 0
}
