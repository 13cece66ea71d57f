package pipeline

import (
	"context"
	"errors"
	"fmt"

	"kgsink/internal/address"
	"kgsink/internal/events"
	"kgsink/internal/resolver"
	"kgsink/internal/store"
)

func (p *Pipeline) handleSpacesCreated(ctx context.Context, r *run) {
	for i, ev := range r.block.SpacesCreated {
		p.registerSpace(ctx, r, events.KindSpaceCreated, i, store.Space{
			DAOAddress:         ev.DAOAddress,
			SpacePluginAddress: ev.SpacePluginAddress,
		})
	}
}

func (p *Pipeline) handleGovernancePlugins(ctx context.Context, r *run) {
	for i, ev := range r.block.GovernancePluginsCreated {
		p.registerSpace(ctx, r, events.KindGovernancePluginsCreated, i, store.Space{
			DAOAddress:                ev.DAOAddress,
			MainVotingPluginAddress:   ev.MainVotingAddress,
			MemberAccessPluginAddress: ev.MemberAccessAddress,
		})
	}
}

func (p *Pipeline) handlePersonalPlugins(ctx context.Context, r *run) {
	for i, ev := range r.block.PersonalPluginsCreated {
		p.registerSpace(ctx, r, events.KindPersonalPluginsCreated, i, store.Space{
			DAOAddress:                      ev.DAOAddress,
			PersonalSpaceAdminPluginAddress: ev.PersonalAdminAddress,
		})
	}
}

// registerSpace upserts the addresses carried by a registration event into
// the space keyed by its DAO.
func (p *Pipeline) registerSpace(ctx context.Context, r *run, kind events.Kind, index int, space store.Space) {
	p.recorder.Event(string(kind))
	out := Outcome{Kind: kind, Index: index, Key: space.DAOAddress, Stage: StageWriting}

	space.IsActive = true
	space.CreatedAt = r.block.Timestamp
	space.CreatedAtBlock = r.block.Number

	err := p.withRetry(ctx, r, StageWriting, func(ctx context.Context) error {
		_, err := p.resolver.RegisterSpace(ctx, space)
		return err
	})
	if errors.Is(err, address.ErrInvalid) {
		out.Reason, out.Err = ReasonBadAddress, err
		p.fail(r, out)
		return
	}
	if err != nil {
		out.Reason, out.Err = writeReason(err), err
		p.fail(r, out)
		return
	}
	out.Stage = StageDone
	r.add(out)
}

func (p *Pipeline) handleSubspaces(ctx context.Context, r *run, kind events.Kind, evs []events.SubspaceChanged) {
	for i, ev := range evs {
		p.recorder.Event(string(kind))
		out := Outcome{Kind: kind, Index: i, Key: ev.PluginAddress + ":" + ev.SubspaceAddress, Stage: StageResolving}

		parent, err := p.resolver.ForSpacePlugin(ctx, ev.PluginAddress)
		if err != nil {
			out.Reason, out.Err = resolveReason(err), err
			p.fail(r, out)
			continue
		}
		subspace, err := address.Checksum(ev.SubspaceAddress)
		if err != nil {
			out.Reason, out.Err = ReasonBadAddress, err
			p.fail(r, out)
			continue
		}

		link := []store.SubspaceLink{{
			ParentSpaceID:  parent.ID,
			SubspaceID:     subspace,
			CreatedAt:      r.block.Timestamp,
			CreatedAtBlock: r.block.Number,
		}}
		out.Stage = StageWriting
		err = p.withRetry(ctx, r, StageWriting, func(ctx context.Context) error {
			if kind == events.KindSubspaceRemoved {
				return p.store.RemoveSubspaces(ctx, link)
			}
			return p.store.UpsertSubspaces(ctx, link)
		})
		if err != nil {
			out.Reason, out.Err = writeReason(err), err
			p.fail(r, out)
			continue
		}
		out.Stage = StageDone
		r.add(out)
	}
}

// handleRoles applies editor and member changes. The plugin may be a main
// voting plugin, a personal admin plugin or both; every space it resolves
// to receives the change.
func (p *Pipeline) handleRoles(ctx context.Context, r *run, kind events.Kind, evs []events.RoleChanged) {
	for i, ev := range evs {
		p.recorder.Event(string(kind))
		out := Outcome{Kind: kind, Index: i, Key: ev.PluginAddress + ":" + ev.ChangedBy, Stage: StageResolving}

		account, err := address.Checksum(ev.ChangedBy)
		if err != nil {
			out.Reason, out.Err = ReasonBadAddress, err
			p.fail(r, out)
			continue
		}

		spaces, err := p.roleSpaces(ctx, ev.PluginAddress)
		if err != nil {
			out.Reason, out.Err = resolveReason(err), err
			p.fail(r, out)
			continue
		}

		grants := make([]store.RoleGrant, 0, len(spaces))
		for _, space := range spaces {
			grants = append(grants, store.RoleGrant{
				SpaceID:        space.ID,
				AccountID:      account,
				CreatedAt:      r.block.Timestamp,
				CreatedAtBlock: r.block.Number,
			})
		}

		out.Stage = StageWriting
		err = p.withRetry(ctx, r, StageWriting, func(ctx context.Context) error {
			switch kind {
			case events.KindEditorAdded:
				return p.store.UpsertSpaceEditors(ctx, grants)
			case events.KindEditorRemoved:
				return p.store.RemoveSpaceEditors(ctx, grants)
			case events.KindMemberAdded:
				return p.store.UpsertSpaceMembers(ctx, grants)
			case events.KindMemberRemoved:
				return p.store.RemoveSpaceMembers(ctx, grants)
			}
			return fmt.Errorf("unexpected role event %s", kind)
		})
		if err != nil {
			out.Reason, out.Err = writeReason(err), err
			p.fail(r, out)
			continue
		}
		out.Stage = StageDone
		r.add(out)
	}
}

func (p *Pipeline) roleSpaces(ctx context.Context, plugin string) ([]store.Space, error) {
	var spaces []store.Space
	lookups := []func(context.Context, string) (store.Space, error){
		p.resolver.ForVotingPlugin,
		p.resolver.ForPersonalPlugin,
	}
	for _, lookup := range lookups {
		space, err := lookup(ctx, plugin)
		if errors.Is(err, resolver.ErrSpaceNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(spaces) == 1 && spaces[0].ID == space.ID {
			continue
		}
		spaces = append(spaces, space)
	}
	if len(spaces) == 0 {
		return nil, fmt.Errorf("no voting or personal space for plugin %s: %w", plugin, resolver.ErrSpaceNotFound)
	}
	return spaces, nil
}

// handleProposalsExecuted marks proposals accepted. The proposal's type is
// read back from storage so the status change applies to the row written at
// creation time.
func (p *Pipeline) handleProposalsExecuted(ctx context.Context, r *run) {
	for i, ev := range r.block.ProposalsExecuted {
		p.recorder.Event(string(events.KindProposalExecuted))
		out := Outcome{Kind: events.KindProposalExecuted, Index: i, Key: ev.PluginAddress + ":" + ev.ProposalID, Stage: StageResolving}

		plugin, err := address.Checksum(ev.PluginAddress)
		if err != nil {
			out.Reason, out.Err = ReasonBadAddress, err
			p.fail(r, out)
			continue
		}

		var proposalType string
		err = p.withRetry(ctx, r, StageResolving, func(ctx context.Context) error {
			t, err := p.store.ProposalType(ctx, ev.ProposalID, plugin)
			if err != nil {
				return err
			}
			proposalType = t
			return nil
		})
		if errors.Is(err, store.ErrNotFound) {
			out.Reason = ReasonProposalNotFound
			out.Err = fmt.Errorf("executed proposal %s on %s: %w", ev.ProposalID, plugin, ErrProposalNotFound)
			p.fail(r, out)
			continue
		}
		if err != nil {
			out.Reason, out.Err = ReasonLookup, err
			p.fail(r, out)
			continue
		}

		out.Stage = StageWriting
		var updated bool
		err = p.withRetry(ctx, r, StageWriting, func(ctx context.Context) error {
			ok, err := p.store.SetProposalAccepted(ctx, ev.ProposalID, plugin, proposalType)
			updated = ok
			return err
		})
		if err != nil {
			out.Reason, out.Err = writeReason(err), err
			p.fail(r, out)
			continue
		}
		if !updated {
			out.Reason = ReasonProposalNotFound
			out.Err = fmt.Errorf("executed proposal %s on %s: %w", ev.ProposalID, plugin, ErrProposalNotFound)
			p.fail(r, out)
			continue
		}
		out.Stage = StageDone
		r.add(out)
	}
}
