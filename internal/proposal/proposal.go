// Package proposal turns a created-proposal event, the spaces it resolved
// to and its decoded payload into one typed proposal.
package proposal

import (
	"time"

	"kgsink/internal/payload"
	"kgsink/internal/store"
)

// Base carries the fields every proposal variant shares. Addresses are
// checksummed.
type Base struct {
	ID                string
	OnchainProposalID string
	PluginAddress     string
	SpaceID           string
	Type              payload.ActionType
	Name              string
	Creator           string
	CreatedAt         time.Time
	CreatedAtBlock    int64
	StartTime         time.Time
	EndTime           time.Time
}

// Proposal is implemented by EditProposal, SubspaceProposal,
// EditorshipProposal and MembershipProposal only.
type Proposal interface {
	Common() Base
	isProposal()
}

// Op is an edit op tagged with the space it is written to.
type Op struct {
	payload.Op
	SpaceID string
}

type EditProposal struct {
	Base
	Version string
	Ops     []Op
	Authors []string
}

type SubspaceProposal struct {
	Base
	// SubspaceID is the id of the already registered space being linked.
	SubspaceID string
}

type EditorshipProposal struct {
	Base
	Account string
}

type MembershipProposal struct {
	Base
	Account string
}

func (p *EditProposal) Common() Base       { return p.Base }
func (p *SubspaceProposal) Common() Base   { return p.Base }
func (p *EditorshipProposal) Common() Base { return p.Base }
func (p *MembershipProposal) Common() Base { return p.Base }

func (*EditProposal) isProposal()       {}
func (*SubspaceProposal) isProposal()   {}
func (*EditorshipProposal) isProposal() {}
func (*MembershipProposal) isProposal() {}

// Row converts a proposal into its proposals table row, status proposed.
func Row(p Proposal) store.Proposal {
	base := p.Common()
	row := store.Proposal{
		ID:                base.ID,
		OnchainProposalID: base.OnchainProposalID,
		PluginAddress:     base.PluginAddress,
		SpaceID:           base.SpaceID,
		Type:              base.Type.String(),
		Name:              base.Name,
		Status:            store.StatusProposed,
		CreatedByID:       base.Creator,
		CreatedAt:         base.CreatedAt,
		CreatedAtBlock:    base.CreatedAtBlock,
		StartTime:         base.StartTime,
		EndTime:           base.EndTime,
	}
	switch v := p.(type) {
	case *EditProposal:
	case *SubspaceProposal:
		row.SubspaceID = v.SubspaceID
	case *EditorshipProposal:
		row.AccountID = v.Account
	case *MembershipProposal:
		row.AccountID = v.Account
	}
	return row
}

// Accounts lists the accounts a proposal references, creator first.
func Accounts(p Proposal) []store.Account {
	base := p.Common()
	seen := map[string]bool{base.Creator: true}
	accounts := []store.Account{{ID: base.Creator}}
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		accounts = append(accounts, store.Account{ID: id})
	}
	switch v := p.(type) {
	case *EditProposal:
		for _, author := range v.Authors {
			add(author)
		}
	case *EditorshipProposal:
		add(v.Account)
	case *MembershipProposal:
		add(v.Account)
	case *SubspaceProposal:
	}
	return accounts
}
