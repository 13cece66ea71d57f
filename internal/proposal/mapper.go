package proposal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"kgsink/internal/address"
	"kgsink/internal/events"
	"kgsink/internal/payload"
	"kgsink/internal/resolver"
	"kgsink/internal/store"
)

// Drop reasons reported when Map decides not to produce a proposal.
const (
	DropNoVotingSpace   = "no_voting_space"
	DropUnknownSubspace = "unknown_subspace"
	DropNoRoleSpace     = "no_role_space"
	DropBadAddress      = "bad_address"
	DropUnsupported     = "unsupported_payload"
)

// Lookup holds the spaces the proposal's plugin resolved to. Either may be
// nil.
type Lookup struct {
	Voting     *store.Space
	Membership *store.Space
}

// Created is a ProposalCreated event together with its block position.
type Created struct {
	events.ProposalCreated
	BlockNumber    int64
	BlockTimestamp time.Time
}

type DAOResolver interface {
	ForDAO(ctx context.Context, addr string) (store.Space, error)
}

type Mapper struct {
	daos DAOResolver
	// OnDrop, when set, is told why a proposal was dropped.
	OnDrop func(reason string)
}

func NewMapper(daos DAOResolver) *Mapper {
	return &Mapper{daos: daos}
}

// Map returns (nil, nil) for proposals it drops. Errors are reserved for
// failed lookups.
func (m *Mapper) Map(ctx context.Context, ev Created, spaces Lookup, p payload.Payload) (Proposal, error) {
	base, err := m.base(ev)
	if err != nil {
		m.drop(ev, DropBadAddress, err.Error())
		return nil, nil
	}
	meta := p.Metadata()
	base.Type = meta.Type

	switch v := p.(type) {
	case *payload.EditPayload:
		if spaces.Voting == nil {
			m.drop(ev, DropNoVotingSpace, "edit requires a voting plugin space")
			return nil, nil
		}
		base.SpaceID = spaces.Voting.ID
		base.Type = payload.ActionAddEdit
		base.Name = meta.Name
		edit := &EditProposal{Base: base, Version: meta.Version, Ops: make([]Op, len(v.Ops))}
		for i, op := range v.Ops {
			edit.Ops[i] = Op{Op: op, SpaceID: base.SpaceID}
		}
		edit.Authors = checksumAll(v.Authors)
		return edit, nil

	case *payload.SubspacePayload:
		if spaces.Voting == nil {
			m.drop(ev, DropNoVotingSpace, "subspace change requires a voting plugin space")
			return nil, nil
		}
		subspace, err := m.daos.ForDAO(ctx, v.Subspace)
		if errors.Is(err, resolver.ErrSpaceNotFound) {
			m.drop(ev, DropUnknownSubspace, fmt.Sprintf("no space for subspace dao %s", v.Subspace))
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("map proposal %s: %w", ev.ProposalID, err)
		}
		base.SpaceID = spaces.Voting.ID
		base.Name = verbFor(meta.Type) + " subspace: " + subspace.ID
		return &SubspaceProposal{Base: base, SubspaceID: subspace.ID}, nil

	case *payload.EditorshipPayload:
		space := roleSpace(spaces)
		if space == nil {
			m.drop(ev, DropNoRoleSpace, "editor change requires a membership or voting plugin space")
			return nil, nil
		}
		account, err := address.Checksum(v.User)
		if err != nil {
			m.drop(ev, DropBadAddress, err.Error())
			return nil, nil
		}
		base.SpaceID = space.ID
		base.Name = verbFor(meta.Type) + " editor: " + account
		return &EditorshipProposal{Base: base, Account: account}, nil

	case *payload.MembershipPayload:
		space := roleSpace(spaces)
		if space == nil {
			m.drop(ev, DropNoRoleSpace, "member change requires a membership or voting plugin space")
			return nil, nil
		}
		account, err := address.Checksum(v.User)
		if err != nil {
			m.drop(ev, DropBadAddress, err.Error())
			return nil, nil
		}
		base.SpaceID = space.ID
		base.Name = verbFor(meta.Type) + " member: " + account
		return &MembershipProposal{Base: base, Account: account}, nil
	}

	m.drop(ev, DropUnsupported, fmt.Sprintf("payload type %s", meta.Type))
	return nil, nil
}

func (m *Mapper) base(ev Created) (Base, error) {
	plugin, err := address.Checksum(ev.PluginAddress)
	if err != nil {
		return Base{}, fmt.Errorf("plugin address: %w", err)
	}
	creator, err := address.Checksum(ev.Creator)
	if err != nil {
		return Base{}, fmt.Errorf("creator address: %w", err)
	}
	return Base{
		ID:                ID(plugin, ev.ProposalID),
		OnchainProposalID: ev.ProposalID,
		PluginAddress:     plugin,
		Creator:           creator,
		CreatedAt:         ev.BlockTimestamp,
		CreatedAtBlock:    ev.BlockNumber,
		StartTime:         time.Unix(ev.StartTime, 0).UTC(),
		EndTime:           time.Unix(ev.EndTime, 0).UTC(),
	}, nil
}

func (m *Mapper) drop(ev Created, reason, detail string) {
	log.Printf("proposal: drop onchain_id=%s plugin=%s uri=%s reason=%s detail=%s",
		ev.ProposalID, ev.PluginAddress, ev.MetadataURI, reason, detail)
	if m.OnDrop != nil {
		m.OnDrop(reason)
	}
}

func roleSpace(spaces Lookup) *store.Space {
	if spaces.Membership != nil {
		return spaces.Membership
	}
	return spaces.Voting
}

func verbFor(t payload.ActionType) string {
	switch t {
	case payload.ActionRemoveSubspace, payload.ActionRemoveEditor, payload.ActionRemoveMember:
		return "Remove"
	default:
		return "Add"
	}
}

func checksumAll(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if checksummed, err := address.Checksum(addr); err == nil {
			out = append(out, checksummed)
			continue
		}
		log.Printf("proposal: skip malformed author address=%q", addr)
	}
	return out
}
