package pipeline

import (
	"context"
	"sync"

	"kgsink/internal/store"
)

// memStore mirrors the conflict rules of the Postgres store closely enough
// for block-level tests: inserts do nothing on conflict, space upserts keep
// known plugin addresses and the current version pointer only moves forward.
type memStore struct {
	mu sync.Mutex

	spaces    map[string]store.Space
	accounts  map[string]bool
	editors   map[string]bool
	members   map[string]bool
	subspaces map[string]bool
	proposals map[string]store.Proposal
	edits     map[string]store.Edit
	entities  map[string]store.Entity
	versions  map[string]store.Version
	triples   map[string][]store.Triple
	pointers  map[string]store.CurrentVersion

	writeEditFn func(batch store.EditBatch) error
	writeEdits  int
}

func newMemStore() *memStore {
	return &memStore{
		spaces:    map[string]store.Space{},
		accounts:  map[string]bool{},
		editors:   map[string]bool{},
		members:   map[string]bool{},
		subspaces: map[string]bool{},
		proposals: map[string]store.Proposal{},
		edits:     map[string]store.Edit{},
		entities:  map[string]store.Entity{},
		versions:  map[string]store.Version{},
		triples:   map[string][]store.Triple{},
		pointers:  map[string]store.CurrentVersion{},
	}
}

func (m *memStore) FindSpaceBy(_ context.Context, role store.PluginRole, addr string) (store.Space, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, space := range m.spaces {
		var column string
		switch role {
		case store.RoleDAO:
			column = space.DAOAddress
		case store.RoleSpacePlugin:
			column = space.SpacePluginAddress
		case store.RoleVotingPlugin:
			column = space.MainVotingPluginAddress
		case store.RoleMembershipPlugin:
			column = space.MemberAccessPluginAddress
		case store.RolePersonalPlugin:
			column = space.PersonalSpaceAdminPluginAddress
		}
		if column != "" && column == addr {
			return space, nil
		}
	}
	return store.Space{}, store.ErrNotFound
}

func (m *memStore) UpsertSpaces(_ context.Context, spaces []store.Space) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, space := range spaces {
		existing, ok := m.spaces[space.ID]
		if !ok {
			m.spaces[space.ID] = space
			continue
		}
		keep := func(current *string, incoming string) {
			if incoming != "" {
				*current = incoming
			}
		}
		keep(&existing.SpacePluginAddress, space.SpacePluginAddress)
		keep(&existing.MainVotingPluginAddress, space.MainVotingPluginAddress)
		keep(&existing.MemberAccessPluginAddress, space.MemberAccessPluginAddress)
		keep(&existing.PersonalSpaceAdminPluginAddress, space.PersonalSpaceAdminPluginAddress)
		existing.IsRootSpace = existing.IsRootSpace || space.IsRootSpace
		m.spaces[space.ID] = existing
	}
	return nil
}

func (m *memStore) WriteProposal(_ context.Context, accounts []store.Account, p store.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addAccounts(accounts)
	m.insertProposal(p)
	return nil
}

func (m *memStore) addAccounts(accounts []store.Account) {
	for _, a := range accounts {
		m.accounts[a.ID] = true
	}
}

func (m *memStore) insertProposal(p store.Proposal) {
	if _, ok := m.proposals[p.ID]; !ok {
		m.proposals[p.ID] = p
	}
}

func (m *memStore) ProposalType(_ context.Context, onchainID, plugin string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.proposals {
		if p.OnchainProposalID == onchainID && p.PluginAddress == plugin {
			return p.Type, nil
		}
	}
	return "", store.ErrNotFound
}

func (m *memStore) SetProposalAccepted(_ context.Context, onchainID, plugin, proposalType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.proposals {
		if p.OnchainProposalID == onchainID && p.PluginAddress == plugin && p.Type == proposalType {
			p.Status = store.StatusAccepted
			m.proposals[id] = p
			return true, nil
		}
	}
	return false, nil
}

func grantKey(g store.RoleGrant) string {
	return g.SpaceID + "|" + g.AccountID
}

func (m *memStore) setGrants(set map[string]bool, grants []store.RoleGrant, present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range grants {
		if present {
			m.accounts[g.AccountID] = true
			set[grantKey(g)] = true
			continue
		}
		delete(set, grantKey(g))
	}
}

func (m *memStore) UpsertSpaceEditors(_ context.Context, grants []store.RoleGrant) error {
	m.setGrants(m.editors, grants, true)
	return nil
}

func (m *memStore) RemoveSpaceEditors(_ context.Context, grants []store.RoleGrant) error {
	m.setGrants(m.editors, grants, false)
	return nil
}

func (m *memStore) UpsertSpaceMembers(_ context.Context, grants []store.RoleGrant) error {
	m.setGrants(m.members, grants, true)
	return nil
}

func (m *memStore) RemoveSpaceMembers(_ context.Context, grants []store.RoleGrant) error {
	m.setGrants(m.members, grants, false)
	return nil
}

func (m *memStore) UpsertSubspaces(_ context.Context, links []store.SubspaceLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range links {
		m.subspaces[l.ParentSpaceID+"|"+l.SubspaceID] = true
	}
	return nil
}

func (m *memStore) RemoveSubspaces(_ context.Context, links []store.SubspaceLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range links {
		delete(m.subspaces, l.ParentSpaceID+"|"+l.SubspaceID)
	}
	return nil
}

func (m *memStore) WriteEdit(_ context.Context, batch store.EditBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeEdits++
	if m.writeEditFn != nil {
		if err := m.writeEditFn(batch); err != nil {
			return err
		}
	}

	m.addAccounts(batch.Accounts)
	m.insertProposal(batch.Proposal)
	if _, ok := m.edits[batch.Edit.ID]; !ok {
		m.edits[batch.Edit.ID] = batch.Edit
	}
	for _, e := range batch.Entities {
		existing, ok := m.entities[e.ID]
		if !ok {
			m.entities[e.ID] = e
			continue
		}
		if existing.UpdatedAtBlock <= e.UpdatedAtBlock {
			existing.Name = e.Name
			existing.UpdatedAt = e.UpdatedAt
			existing.UpdatedAtBlock = e.UpdatedAtBlock
			m.entities[e.ID] = existing
		}
	}
	fresh := map[string]bool{}
	for _, v := range batch.Versions {
		if _, ok := m.versions[v.ID]; ok {
			continue
		}
		m.versions[v.ID] = v
		fresh[v.ID] = true
	}
	for _, t := range batch.Triples {
		if fresh[t.VersionID] {
			m.triples[t.VersionID] = append(m.triples[t.VersionID], t)
		}
	}
	for _, ptr := range batch.Pointers {
		current, ok := m.pointers[ptr.EntityID]
		if ok && (current.CreatedAtBlock > ptr.CreatedAtBlock ||
			(current.CreatedAtBlock == ptr.CreatedAtBlock && current.BlockIndex > ptr.BlockIndex)) {
			continue
		}
		m.pointers[ptr.EntityID] = ptr
	}
	return nil
}

func (m *memStore) CurrentVersion(_ context.Context, entityID string) (store.CurrentVersion, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ptr, ok := m.pointers[entityID]
	return ptr, ok, nil
}

func (m *memStore) TriplesForVersion(_ context.Context, versionID string) ([]store.Triple, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Triple(nil), m.triples[versionID]...), nil
}

func (m *memStore) VersionExists(_ context.Context, versionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.versions[versionID]
	return ok, nil
}

// value returns the value of attribute in the entity's current version.
func (m *memStore) value(entityID, attribute string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ptr, ok := m.pointers[entityID]
	if !ok {
		return "", false
	}
	for _, t := range m.triples[ptr.VersionID] {
		if t.AttributeID == attribute && t.EntityID == entityID {
			return t.Value, true
		}
	}
	return "", false
}
