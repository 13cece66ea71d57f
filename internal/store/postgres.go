package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement so PostgresStore and Tx share one
// implementation.
type queries struct {
	q dbtx
}

type PostgresStore struct {
	queries
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{queries: queries{q: db}, db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Tx exposes the same statements bound to one transaction.
type Tx struct {
	queries
	tx *sql.Tx
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Tx{queries: queries{q: sqlTx}, tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// WriteEdit commits a content edit. Rows that already exist are left
// untouched so a replayed edit changes nothing.
func (s *PostgresStore) WriteEdit(ctx context.Context, batch EditBatch) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.UpsertAccounts(ctx, batch.Accounts); err != nil {
			return err
		}
		if err := tx.UpsertProposal(ctx, batch.Proposal); err != nil {
			return err
		}
		if err := tx.UpsertEdit(ctx, batch.Edit); err != nil {
			return err
		}
		if err := tx.UpsertEntities(ctx, batch.Entities); err != nil {
			return err
		}
		if err := tx.UpsertVersions(ctx, batch.Versions); err != nil {
			return err
		}
		if err := tx.InsertTriples(ctx, batch.Triples); err != nil {
			return err
		}
		return tx.UpsertCurrentVersionPointers(ctx, batch.Pointers)
	})
}

// WriteProposal commits a governance proposal and the accounts it
// references.
func (s *PostgresStore) WriteProposal(ctx context.Context, accounts []Account, p Proposal) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.UpsertAccounts(ctx, accounts); err != nil {
			return err
		}
		return tx.UpsertProposal(ctx, p)
	})
}

func (q queries) UpsertSpaces(ctx context.Context, spaces []Space) error {
	for _, space := range spaces {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO spaces (
				id, dao_address, space_plugin_address, main_voting_plugin_address,
				member_access_plugin_address, personal_space_admin_plugin_address,
				is_root_space, is_active, created_at_block, created_at
			)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				space_plugin_address = COALESCE(EXCLUDED.space_plugin_address, spaces.space_plugin_address),
				main_voting_plugin_address = COALESCE(EXCLUDED.main_voting_plugin_address, spaces.main_voting_plugin_address),
				member_access_plugin_address = COALESCE(EXCLUDED.member_access_plugin_address, spaces.member_access_plugin_address),
				personal_space_admin_plugin_address = COALESCE(EXCLUDED.personal_space_admin_plugin_address, spaces.personal_space_admin_plugin_address),
				is_root_space = spaces.is_root_space OR EXCLUDED.is_root_space
		`, space.ID, space.DAOAddress, space.SpacePluginAddress, space.MainVotingPluginAddress,
			space.MemberAccessPluginAddress, space.PersonalSpaceAdminPluginAddress,
			space.IsRootSpace, space.IsActive, space.CreatedAtBlock, space.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert space %s: %w", space.ID, err)
		}
	}
	return nil
}

func (q queries) FindSpaceBy(ctx context.Context, role PluginRole, address string) (Space, error) {
	if !role.Valid() {
		return Space{}, fmt.Errorf("find space: unknown role %q", role)
	}
	query := fmt.Sprintf(`
		SELECT id, dao_address, COALESCE(space_plugin_address, ''), COALESCE(main_voting_plugin_address, ''),
			COALESCE(member_access_plugin_address, ''), COALESCE(personal_space_admin_plugin_address, ''),
			is_root_space, is_active, created_at_block, created_at
		FROM spaces
		WHERE %s = $1
	`, string(role))
	var space Space
	err := q.q.QueryRowContext(ctx, query, address).Scan(
		&space.ID, &space.DAOAddress, &space.SpacePluginAddress, &space.MainVotingPluginAddress,
		&space.MemberAccessPluginAddress, &space.PersonalSpaceAdminPluginAddress,
		&space.IsRootSpace, &space.IsActive, &space.CreatedAtBlock, &space.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Space{}, ErrNotFound
	}
	if err != nil {
		return Space{}, fmt.Errorf("find space by %s: %w", role, err)
	}
	return space, nil
}

func (q queries) UpsertAccounts(ctx context.Context, accounts []Account) error {
	for _, account := range accounts {
		if _, err := q.q.ExecContext(ctx, `INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, account.ID); err != nil {
			return fmt.Errorf("upsert account %s: %w", account.ID, err)
		}
	}
	return nil
}

func (q queries) UpsertSpaceEditors(ctx context.Context, grants []RoleGrant) error {
	return q.upsertGrants(ctx, "space_editors", grants)
}

func (q queries) UpsertSpaceMembers(ctx context.Context, grants []RoleGrant) error {
	return q.upsertGrants(ctx, "space_members", grants)
}

func (q queries) RemoveSpaceEditors(ctx context.Context, grants []RoleGrant) error {
	return q.removeGrants(ctx, "space_editors", grants)
}

func (q queries) RemoveSpaceMembers(ctx context.Context, grants []RoleGrant) error {
	return q.removeGrants(ctx, "space_members", grants)
}

func (q queries) upsertGrants(ctx context.Context, table string, grants []RoleGrant) error {
	for _, grant := range grants {
		if _, err := q.q.ExecContext(ctx, `INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, grant.AccountID); err != nil {
			return fmt.Errorf("upsert account %s: %w", grant.AccountID, err)
		}
		_, err := q.q.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (space_id, account_id, created_at, created_at_block)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (space_id, account_id) DO NOTHING
		`, table), grant.SpaceID, grant.AccountID, grant.CreatedAt, grant.CreatedAtBlock)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
	}
	return nil
}

func (q queries) removeGrants(ctx context.Context, table string, grants []RoleGrant) error {
	for _, grant := range grants {
		_, err := q.q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE space_id=$1 AND account_id=$2`, table), grant.SpaceID, grant.AccountID)
		if err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}

func (q queries) UpsertSubspaces(ctx context.Context, links []SubspaceLink) error {
	for _, link := range links {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO space_subspaces (parent_space_id, subspace_id, created_at, created_at_block)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (parent_space_id, subspace_id) DO NOTHING
		`, link.ParentSpaceID, link.SubspaceID, link.CreatedAt, link.CreatedAtBlock)
		if err != nil {
			return fmt.Errorf("upsert subspace %s: %w", link.SubspaceID, err)
		}
	}
	return nil
}

func (q queries) RemoveSubspaces(ctx context.Context, links []SubspaceLink) error {
	for _, link := range links {
		_, err := q.q.ExecContext(ctx, `DELETE FROM space_subspaces WHERE parent_space_id=$1 AND subspace_id=$2`, link.ParentSpaceID, link.SubspaceID)
		if err != nil {
			return fmt.Errorf("delete subspace %s: %w", link.SubspaceID, err)
		}
	}
	return nil
}

// UpsertProposal inserts a proposal once. A replay never resets the status
// of an already accepted proposal.
func (q queries) UpsertProposal(ctx context.Context, p Proposal) error {
	status := p.Status
	if status == "" {
		status = StatusProposed
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO proposals (
			id, onchain_proposal_id, plugin_address, space_id, type, name, status,
			created_by_id, created_at, created_at_block, start_time, end_time, subspace_id, account_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''), NULLIF($14, ''))
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.OnchainProposalID, p.PluginAddress, p.SpaceID, p.Type, p.Name, status,
		p.CreatedByID, p.CreatedAt, p.CreatedAtBlock, p.StartTime, p.EndTime, p.SubspaceID, p.AccountID)
	if err != nil {
		return fmt.Errorf("upsert proposal %s: %w", p.ID, err)
	}
	return nil
}

func (q queries) ProposalType(ctx context.Context, onchainProposalID, pluginAddress string) (string, error) {
	var proposalType string
	err := q.q.QueryRowContext(ctx, `
		SELECT type FROM proposals WHERE onchain_proposal_id=$1 AND plugin_address=$2
	`, onchainProposalID, pluginAddress).Scan(&proposalType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup proposal type: %w", err)
	}
	return proposalType, nil
}

func (q queries) SetProposalAccepted(ctx context.Context, onchainProposalID, pluginAddress, proposalType string) (bool, error) {
	result, err := q.q.ExecContext(ctx, `
		UPDATE proposals
		SET status='accepted'
		WHERE onchain_proposal_id=$1 AND plugin_address=$2 AND type=$3
	`, onchainProposalID, pluginAddress, proposalType)
	if err != nil {
		return false, fmt.Errorf("accept proposal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("accept proposal rows: %w", err)
	}
	return affected > 0, nil
}

func (q queries) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	var p Proposal
	err := q.q.QueryRowContext(ctx, `
		SELECT id, onchain_proposal_id, plugin_address, space_id, type, name, status, created_by_id,
			created_at, created_at_block, start_time, end_time, COALESCE(subspace_id, ''), COALESCE(account_id, '')
		FROM proposals WHERE id=$1
	`, proposalID).Scan(&p.ID, &p.OnchainProposalID, &p.PluginAddress, &p.SpaceID, &p.Type, &p.Name, &p.Status,
		&p.CreatedByID, &p.CreatedAt, &p.CreatedAtBlock, &p.StartTime, &p.EndTime, &p.SubspaceID, &p.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return Proposal{}, ErrNotFound
	}
	if err != nil {
		return Proposal{}, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

func (q queries) UpsertEdit(ctx context.Context, edit Edit) error {
	authors := edit.Authors
	if authors == nil {
		authors = []string{}
	}
	authorsJSON, err := json.Marshal(authors)
	if err != nil {
		return fmt.Errorf("marshal edit authors: %w", err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO edits (id, name, space_id, proposal_id, authors, created_at, created_at_block)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, edit.ID, edit.Name, edit.SpaceID, edit.ProposalID, string(authorsJSON), edit.CreatedAt, edit.CreatedAtBlock)
	if err != nil {
		return fmt.Errorf("upsert edit %s: %w", edit.ID, err)
	}
	return nil
}

// UpsertEntities creates entities and refreshes name and update markers,
// never moving them backwards in block order.
func (q queries) UpsertEntities(ctx context.Context, entities []Entity) error {
	for _, entity := range entities {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO entities (id, name, created_by_id, created_at, created_at_block, updated_at, updated_at_block)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				updated_at = EXCLUDED.updated_at,
				updated_at_block = EXCLUDED.updated_at_block
			WHERE entities.updated_at_block <= EXCLUDED.updated_at_block
		`, entity.ID, entity.Name, entity.CreatedByID, entity.CreatedAt, entity.CreatedAtBlock, entity.UpdatedAt, entity.UpdatedAtBlock)
		if err != nil {
			return fmt.Errorf("upsert entity %s: %w", entity.ID, err)
		}
	}
	return nil
}

func (q queries) UpsertVersions(ctx context.Context, versions []Version) error {
	for _, v := range versions {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO versions (id, entity_id, edit_id, space_id, created_by_id, created_at, created_at_block, block_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING
		`, v.ID, v.EntityID, v.EditID, v.SpaceID, v.CreatedByID, v.CreatedAt, v.CreatedAtBlock, v.BlockIndex)
		if err != nil {
			return fmt.Errorf("insert version %s: %w", v.ID, err)
		}
	}
	return nil
}

func (q queries) VersionExists(ctx context.Context, versionID string) (bool, error) {
	var exists bool
	if err := q.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM versions WHERE id=$1)`, versionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check version %s: %w", versionID, err)
	}
	return exists, nil
}

func (q queries) InsertTriples(ctx context.Context, triples []Triple) error {
	for _, t := range triples {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO triples (version_id, space_id, entity_id, attribute_id, value_type, value, entity_value_id)
			VALUES ($1, $2, $3, $4, $5, $6, CASE WHEN $5 = 'ENTITY' THEN $6 ELSE NULL END)
			ON CONFLICT (version_id, entity_id, attribute_id) DO NOTHING
		`, t.VersionID, t.SpaceID, t.EntityID, t.AttributeID, t.ValueType, t.Value)
		if err != nil {
			return fmt.Errorf("insert triple %s/%s: %w", t.EntityID, t.AttributeID, err)
		}
	}
	return nil
}

func (q queries) TriplesForVersion(ctx context.Context, versionID string) ([]Triple, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT version_id, space_id, entity_id, attribute_id, value_type, value
		FROM triples
		WHERE version_id=$1
		ORDER BY entity_id, attribute_id
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list triples: %w", err)
	}
	defer rows.Close()

	var out []Triple
	for rows.Next() {
		var t Triple
		if err := rows.Scan(&t.VersionID, &t.SpaceID, &t.EntityID, &t.AttributeID, &t.ValueType, &t.Value); err != nil {
			return nil, fmt.Errorf("scan triple: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate triples: %w", err)
	}
	return out, nil
}

// UpsertCurrentVersionPointers advances pointers. A pointer already at a
// later (block, index) position is left alone.
func (q queries) UpsertCurrentVersionPointers(ctx context.Context, pointers []CurrentVersion) error {
	for _, p := range pointers {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO current_versions (entity_id, version_id, created_at_block, block_index)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (entity_id) DO UPDATE SET
				version_id = EXCLUDED.version_id,
				created_at_block = EXCLUDED.created_at_block,
				block_index = EXCLUDED.block_index
			WHERE (current_versions.created_at_block, current_versions.block_index)
				<= (EXCLUDED.created_at_block, EXCLUDED.block_index)
		`, p.EntityID, p.VersionID, p.CreatedAtBlock, p.BlockIndex)
		if err != nil {
			return fmt.Errorf("upsert current version %s: %w", p.EntityID, err)
		}
	}
	return nil
}

func (q queries) CurrentVersion(ctx context.Context, entityID string) (CurrentVersion, bool, error) {
	var cv CurrentVersion
	err := q.q.QueryRowContext(ctx, `
		SELECT entity_id, version_id, created_at_block, block_index
		FROM current_versions WHERE entity_id=$1
	`, entityID).Scan(&cv.EntityID, &cv.VersionID, &cv.CreatedAtBlock, &cv.BlockIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return CurrentVersion{}, false, nil
	}
	if err != nil {
		return CurrentVersion{}, false, fmt.Errorf("lookup current version: %w", err)
	}
	return cv, true, nil
}

// ListEntitySummaries pages through entities whose current version holds
// at least one triple, ordered by id.
func (q queries) ListEntitySummaries(ctx context.Context, afterID string, limit int) ([]EntitySummary, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT e.id, COALESCE(e.name, ''), v.space_id, v.id, v.created_at_block
		FROM current_versions cv
		JOIN entities e ON e.id = cv.entity_id
		JOIN versions v ON v.id = cv.version_id
		WHERE e.id > $1
		  AND EXISTS (SELECT 1 FROM triples t WHERE t.version_id = cv.version_id)
		ORDER BY e.id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entity summaries: %w", err)
	}
	defer rows.Close()

	var out []EntitySummary
	for rows.Next() {
		var e EntitySummary
		if err := rows.Scan(&e.ID, &e.Name, &e.SpaceID, &e.VersionID, &e.CreatedAtBlock); err != nil {
			return nil, fmt.Errorf("scan entity summary: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity summaries: %w", err)
	}
	return out, nil
}

func (q queries) GetCursor(ctx context.Context, id string) (Cursor, error) {
	var c Cursor
	err := q.q.QueryRowContext(ctx, `SELECT id, cursor, block_number, updated_at FROM cursors WHERE id=$1`, id).
		Scan(&c.ID, &c.Cursor, &c.BlockNumber, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Cursor{}, ErrNotFound
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("get cursor: %w", err)
	}
	return c, nil
}

func (q queries) SaveCursor(ctx context.Context, c Cursor) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO cursors (id, cursor, block_number, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET cursor=EXCLUDED.cursor, block_number=EXCLUDED.block_number, updated_at=EXCLUDED.updated_at
	`, c.ID, c.Cursor, c.BlockNumber, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
