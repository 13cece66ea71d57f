// Package events holds the inbound block and event model delivered by the
// block feed.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindSpaceCreated             Kind = "space_created"
	KindGovernancePluginsCreated Kind = "governance_plugins_created"
	KindPersonalPluginsCreated   Kind = "personal_plugins_created"
	KindSubspaceAdded            Kind = "subspace_added"
	KindSubspaceRemoved          Kind = "subspace_removed"
	KindProposalCreated          Kind = "proposal_created"
	KindEditorAdded              Kind = "editor_added"
	KindEditorRemoved            Kind = "editor_removed"
	KindMemberAdded              Kind = "member_added"
	KindMemberRemoved            Kind = "member_removed"
	KindProposalExecuted         Kind = "proposal_executed"
)

// Block is one block-scoped batch of events. Events inside each slice are
// in chain order.
type Block struct {
	Number    int64     `json:"number"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	Network   string    `json:"network"`
	Cursor    string    `json:"cursor"`

	SpacesCreated            []SpaceCreated             `json:"spacesCreated,omitempty"`
	GovernancePluginsCreated []GovernancePluginsCreated `json:"governancePluginsCreated,omitempty"`
	PersonalPluginsCreated   []PersonalPluginsCreated   `json:"personalPluginsCreated,omitempty"`
	SubspacesAdded           []SubspaceChanged          `json:"subspacesAdded,omitempty"`
	SubspacesRemoved         []SubspaceChanged          `json:"subspacesRemoved,omitempty"`
	ProposalsCreated         []ProposalCreated          `json:"proposalsCreated,omitempty"`
	EditorsAdded             []RoleChanged              `json:"editorsAdded,omitempty"`
	EditorsRemoved           []RoleChanged              `json:"editorsRemoved,omitempty"`
	MembersAdded             []RoleChanged              `json:"membersAdded,omitempty"`
	MembersRemoved           []RoleChanged              `json:"membersRemoved,omitempty"`
	ProposalsExecuted        []ProposalExecuted         `json:"proposalsExecuted,omitempty"`
}

// Len counts every event in the block.
func (b Block) Len() int {
	return len(b.SpacesCreated) + len(b.GovernancePluginsCreated) + len(b.PersonalPluginsCreated) +
		len(b.SubspacesAdded) + len(b.SubspacesRemoved) + len(b.ProposalsCreated) +
		len(b.EditorsAdded) + len(b.EditorsRemoved) + len(b.MembersAdded) + len(b.MembersRemoved) +
		len(b.ProposalsExecuted)
}

// SpaceCreated registers a DAO together with its space plugin.
type SpaceCreated struct {
	DAOAddress         string `json:"daoAddress"`
	SpacePluginAddress string `json:"spaceAddress"`
}

type GovernancePluginsCreated struct {
	DAOAddress          string `json:"daoAddress"`
	MainVotingAddress   string `json:"mainVotingAddress"`
	MemberAccessAddress string `json:"memberAccessAddress"`
}

type PersonalPluginsCreated struct {
	DAOAddress           string `json:"daoAddress"`
	PersonalAdminAddress string `json:"personalAdminAddress"`
}

type SubspaceChanged struct {
	PluginAddress   string `json:"pluginAddress"`
	SubspaceAddress string `json:"subspace"`
}

type RoleChanged struct {
	PluginAddress string `json:"pluginAddress"`
	// ChangedBy is the address whose role changed.
	ChangedBy  string `json:"changedBy"`
	DAOAddress string `json:"daoAddress"`
}

type ProposalCreated struct {
	ProposalID    string `json:"proposalId"`
	Creator       string `json:"creator"`
	StartTime     int64  `json:"startTime,string"`
	EndTime       int64  `json:"endTime,string"`
	MetadataURI   string `json:"metadataUri"`
	PluginAddress string `json:"pluginAddress"`
}

type ProposalExecuted struct {
	ProposalID    string `json:"proposalId"`
	PluginAddress string `json:"pluginAddress"`
}

// ParseBlock decodes one feed message.
func ParseBlock(data []byte) (Block, error) {
	var block Block
	if err := json.Unmarshal(data, &block); err != nil {
		return Block{}, fmt.Errorf("decode block: %w", err)
	}
	if block.Number <= 0 {
		return Block{}, fmt.Errorf("decode block: missing block number")
	}
	return block, nil
}
