package store

import "time"

// PluginRole names the spaces column an address is looked up by.
type PluginRole string

const (
	RoleDAO              PluginRole = "dao_address"
	RoleSpacePlugin      PluginRole = "space_plugin_address"
	RoleVotingPlugin     PluginRole = "main_voting_plugin_address"
	RoleMembershipPlugin PluginRole = "member_access_plugin_address"
	RolePersonalPlugin   PluginRole = "personal_space_admin_plugin_address"
)

func (r PluginRole) Valid() bool {
	switch r {
	case RoleDAO, RoleSpacePlugin, RoleVotingPlugin, RoleMembershipPlugin, RolePersonalPlugin:
		return true
	}
	return false
}

const (
	StatusProposed = "proposed"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Space is keyed by its checksummed DAO address. Empty plugin addresses are
// stored as NULL.
type Space struct {
	ID                              string
	DAOAddress                      string
	SpacePluginAddress              string
	MainVotingPluginAddress         string
	MemberAccessPluginAddress       string
	PersonalSpaceAdminPluginAddress string
	IsRootSpace                     bool
	IsActive                        bool
	CreatedAtBlock                  int64
	CreatedAt                       time.Time
}

type Account struct {
	ID string
}

// RoleGrant is one row of space_editors or space_members.
type RoleGrant struct {
	SpaceID        string
	AccountID      string
	CreatedAt      time.Time
	CreatedAtBlock int64
}

type SubspaceLink struct {
	ParentSpaceID  string
	SubspaceID     string
	CreatedAt      time.Time
	CreatedAtBlock int64
}

type Proposal struct {
	ID                string
	OnchainProposalID string
	PluginAddress     string
	SpaceID           string
	Type              string
	Name              string
	Status            string
	CreatedByID       string
	CreatedAt         time.Time
	CreatedAtBlock    int64
	StartTime         time.Time
	EndTime           time.Time
	SubspaceID        string
	AccountID         string
}

type Edit struct {
	ID             string
	Name           string
	SpaceID        string
	ProposalID     string
	Authors        []string
	CreatedAt      time.Time
	CreatedAtBlock int64
}

type Entity struct {
	ID             string
	Name           string
	CreatedByID    string
	CreatedAt      time.Time
	CreatedAtBlock int64
	UpdatedAt      time.Time
	UpdatedAtBlock int64
}

type Version struct {
	ID             string
	EntityID       string
	EditID         string
	SpaceID        string
	CreatedByID    string
	CreatedAt      time.Time
	CreatedAtBlock int64
	BlockIndex     int
}

type Triple struct {
	VersionID   string
	SpaceID     string
	EntityID    string
	AttributeID string
	ValueType   string
	Value       string
}

// CurrentVersion points an entity at its latest version. Pointers only move
// forward in (CreatedAtBlock, BlockIndex) order.
type CurrentVersion struct {
	EntityID       string
	VersionID      string
	CreatedAtBlock int64
	BlockIndex     int
}

type Cursor struct {
	ID          string
	Cursor      string
	BlockNumber int64
	UpdatedAt   time.Time
}

// EditBatch is everything one content edit writes, committed atomically.
type EditBatch struct {
	Accounts []Account
	Proposal Proposal
	Edit     Edit
	Entities []Entity
	Versions []Version
	Triples  []Triple
	Pointers []CurrentVersion
}

// EntitySummary is an entity joined with its current version.
type EntitySummary struct {
	ID             string
	Name           string
	SpaceID        string
	VersionID      string
	CreatedAtBlock int64
}
