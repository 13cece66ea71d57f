package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"kgsink/internal/address"
	"kgsink/internal/config"
	"kgsink/internal/events"
	"kgsink/internal/feed"
	"kgsink/internal/payload"
	"kgsink/internal/pipeline"
	"kgsink/internal/search"
	"kgsink/internal/store"
)

// Store is the part of the storage layer the host needs directly. Pipeline
// writes go through the pipeline's own dependencies.
type Store interface {
	Ping(ctx context.Context) error
	WriteProposal(ctx context.Context, accounts []store.Account, p store.Proposal) error
	GetCursor(ctx context.Context, id string) (store.Cursor, error)
	SaveCursor(ctx context.Context, c store.Cursor) error
	ListEntitySummaries(ctx context.Context, afterID string, limit int) ([]store.EntitySummary, error)
}

type SpaceRegistry interface {
	RegisterSpace(ctx context.Context, space store.Space) (store.Space, error)
}

type BlockProcessor interface {
	ProcessBlock(ctx context.Context, block events.Block) pipeline.Report
}

type BlockFeed interface {
	Run(ctx context.Context, cursor string, handle feed.Handler) error
}

type Searcher interface {
	Enabled() bool
	ReindexAll(ctx context.Context, src search.Source)
}

// Status describes the last block the service finished.
type Status struct {
	LastBlock     int64     `json:"lastBlock"`
	Cursor        string    `json:"cursor"`
	Proposals     int       `json:"proposals"`
	Versions      int       `json:"versions"`
	Failures      int       `json:"failures"`
	Invariants    int       `json:"invariantViolations"`
	ProcessedAt   time.Time `json:"processedAt"`
	BlocksHandled int64     `json:"blocksHandled"`
}

type Service struct {
	cfg      config.Config
	store    Store
	spaces   SpaceRegistry
	pipeline BlockProcessor
	feed     BlockFeed
	search   Searcher

	mu     sync.RWMutex
	status Status
}

func NewService(cfg config.Config, st Store, spaces SpaceRegistry, processor BlockProcessor, blocks BlockFeed, searcher Searcher) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		spaces:   spaces,
		pipeline: processor,
		feed:     blocks,
		search:   searcher,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Bootstrap registers the root space, its creator account and the accepted
// bootstrap proposal "0", then starts a background search reindex. It is
// safe to run on every start.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.RootSpaceAddress == "" {
		log.Printf("app: root space bootstrap skipped, ROOT_SPACE_ADDRESS not set")
		return nil
	}
	dao, err := address.Checksum(s.cfg.RootSpaceAddress)
	if err != nil {
		return fmt.Errorf("bootstrap root space: %w", err)
	}
	creator, err := address.Checksum(s.cfg.RootCreator)
	if err != nil {
		return fmt.Errorf("bootstrap root creator: %w", err)
	}

	root, err := s.spaces.RegisterSpace(ctx, store.Space{
		DAOAddress:     dao,
		IsRootSpace:    true,
		IsActive:       true,
		CreatedAtBlock: s.cfg.RootBlock,
		CreatedAt:      s.cfg.RootCreatedAt,
	})
	if err != nil {
		return fmt.Errorf("bootstrap root space: %w", err)
	}

	err = s.store.WriteProposal(ctx, []store.Account{{ID: creator}}, store.Proposal{
		ID:                "0",
		OnchainProposalID: "-1",
		PluginAddress:     "",
		SpaceID:           root.ID,
		Type:              payload.ActionAddEdit.String(),
		Name:              "Creating initial types for " + creator,
		Status:            store.StatusAccepted,
		CreatedByID:       creator,
		CreatedAt:         s.cfg.RootCreatedAt,
		CreatedAtBlock:    s.cfg.RootBlock,
		StartTime:         s.cfg.RootCreatedAt,
		EndTime:           s.cfg.RootCreatedAt,
	})
	if err != nil {
		return fmt.Errorf("bootstrap root proposal: %w", err)
	}
	log.Printf("app: root space ready space=%s creator=%s", root.ID, creator)

	if s.search != nil && s.search.Enabled() {
		go s.search.ReindexAll(ctx, entitySource{store: s.store})
	}
	return nil
}

// Reindex rebuilds the search index from the current entity versions.
func (s *Service) Reindex(ctx context.Context) error {
	if s.search == nil || !s.search.Enabled() {
		return errSearchDisabled()
	}
	s.search.ReindexAll(ctx, entitySource{store: s.store})
	return nil
}

// Run resumes the feed from the stored cursor and processes blocks until
// ctx is done or the feed gives up.
func (s *Service) Run(ctx context.Context) error {
	cursor, err := s.store.GetCursor(ctx, s.cfg.CursorID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Printf("app: no stored cursor id=%s, starting from the beginning", s.cfg.CursorID)
	case err != nil:
		return fmt.Errorf("load cursor: %w", err)
	default:
		log.Printf("app: resuming id=%s block=%d", s.cfg.CursorID, cursor.BlockNumber)
		s.setStatus(Status{LastBlock: cursor.BlockNumber, Cursor: cursor.Cursor, ProcessedAt: cursor.UpdatedAt})
	}

	return s.feed.Run(ctx, cursor.Cursor, s.HandleBlock)
}

// HandleBlock processes one block and then stores its cursor. A block cut
// short by cancellation is not marked done, so it is delivered again.
func (s *Service) HandleBlock(ctx context.Context, block events.Block) error {
	report := s.pipeline.ProcessBlock(ctx, block)
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.store.SaveCursor(ctx, store.Cursor{
		ID:          s.cfg.CursorID,
		Cursor:      block.Cursor,
		BlockNumber: block.Number,
	})
	if err != nil {
		return fmt.Errorf("save cursor block=%d: %w", block.Number, err)
	}

	s.mu.Lock()
	s.status = Status{
		LastBlock:     block.Number,
		Cursor:        block.Cursor,
		Proposals:     report.ProposalsWritten,
		Versions:      report.VersionsWritten,
		Failures:      len(report.Failures()),
		Invariants:    len(report.InvariantViolations),
		ProcessedAt:   time.Now().UTC(),
		BlocksHandled: s.status.BlocksHandled + 1,
	}
	s.mu.Unlock()
	return nil
}

func (s *Service) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// entitySource pages entity summaries out of the store for reindexing.
type entitySource struct {
	store Store
}

func (e entitySource) EntityDocuments(ctx context.Context, afterID string, limit int) ([]search.EntityDocument, error) {
	rows, err := e.store.ListEntitySummaries(ctx, afterID, limit)
	if err != nil {
		return nil, err
	}
	docs := make([]search.EntityDocument, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, search.EntityDocument{
			ID:        row.ID,
			Name:      row.Name,
			SpaceID:   row.SpaceID,
			VersionID: row.VersionID,
			Block:     row.CreatedAtBlock,
		})
	}
	return docs, nil
}
