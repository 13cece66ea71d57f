// Package pipeline drives one block of governance events through
// resolution, content fetch, decoding, mapping, merging and writing.
// A failing event is recorded in the block's Report and never stops the
// rest of the block.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"kgsink/internal/events"
	"kgsink/internal/ipfs"
	"kgsink/internal/merge"
	"kgsink/internal/payload"
	"kgsink/internal/proposal"
	"kgsink/internal/resolver"
	"kgsink/internal/retry"
	"kgsink/internal/store"
	"kgsink/internal/telemetry"
	"kgsink/internal/util"
	"kgsink/internal/writer"
)

var ErrProposalNotFound = errors.New("proposal not found")

type Stage string

const (
	StageReceived  Stage = "received"
	StageResolving Stage = "resolving"
	StageFetching  Stage = "fetching"
	StageDecoding  Stage = "decoding"
	StageMapping   Stage = "mapping"
	StageMerging   Stage = "merging"
	StageWriting   Stage = "writing"
	StageDone      Stage = "done"
)

// Failure reasons.
const (
	ReasonSpaceNotFound    = "space_not_found"
	ReasonLookup           = "lookup_error"
	ReasonMalformedURI     = "malformed_uri"
	ReasonNetwork          = "network"
	ReasonUnavailable      = "unavailable"
	ReasonTimeout          = "timeout"
	ReasonDecode           = "decode_error"
	ReasonUnsupportedType  = "unsupported_type"
	ReasonDropped          = "dropped"
	ReasonInvariant        = "invariant"
	ReasonWrite            = "write_error"
	ReasonProposalNotFound = "proposal_not_found"
	ReasonBadAddress       = "bad_address"
	ReasonCanceled         = "canceled"
)

// Outcome is where one event ended up. Reason is empty when Stage is
// StageDone.
type Outcome struct {
	Kind   events.Kind
	Index  int
	Key    string
	Stage  Stage
	Reason string
	Err    error
}

func (o Outcome) Failed() bool {
	return o.Stage != StageDone
}

type Report struct {
	Block            int64
	RequestID        string
	Outcomes         []Outcome
	ProposalsWritten int
	VersionsWritten  int
	// InvariantViolations lists entities whose version chain was found
	// inconsistent; their edits were skipped for those entities only.
	InvariantViolations []string
	Duration            time.Duration
}

func (r Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Failed() {
			out = append(out, o)
		}
	}
	return out
}

type Resolver interface {
	ForVotingPlugin(ctx context.Context, addr string) (store.Space, error)
	ForMembershipPlugin(ctx context.Context, addr string) (store.Space, error)
	ForPersonalPlugin(ctx context.Context, addr string) (store.Space, error)
	ForSpacePlugin(ctx context.Context, addr string) (store.Space, error)
	ForDAO(ctx context.Context, addr string) (store.Space, error)
	RegisterSpace(ctx context.Context, space store.Space) (store.Space, error)
}

// Store is the governance side of the storage contract. Content edits go
// through the Writer.
type Store interface {
	WriteProposal(ctx context.Context, accounts []store.Account, p store.Proposal) error
	ProposalType(ctx context.Context, onchainProposalID, pluginAddress string) (string, error)
	SetProposalAccepted(ctx context.Context, onchainProposalID, pluginAddress, proposalType string) (bool, error)
	UpsertSpaceEditors(ctx context.Context, grants []store.RoleGrant) error
	RemoveSpaceEditors(ctx context.Context, grants []store.RoleGrant) error
	UpsertSpaceMembers(ctx context.Context, grants []store.RoleGrant) error
	RemoveSpaceMembers(ctx context.Context, grants []store.RoleGrant) error
	UpsertSubspaces(ctx context.Context, links []store.SubspaceLink) error
	RemoveSubspaces(ctx context.Context, links []store.SubspaceLink) error
}

type Deps struct {
	Resolver Resolver
	Fetcher  ipfs.Fetcher
	Store    Store
	Merger   *merge.Merger
	Writer   *writer.Writer
	Recorder *telemetry.Recorder
}

type Config struct {
	// Workers bounds the resolve/fetch/decode/map fan-out.
	Workers      int
	FetchTimeout time.Duration
	Retry        retry.Policy
}

type Pipeline struct {
	resolver     Resolver
	fetcher      ipfs.Fetcher
	store        Store
	mapper       *proposal.Mapper
	merger       *merge.Merger
	writer       *writer.Writer
	recorder     *telemetry.Recorder
	retry        retry.Policy
	workers      int
	fetchTimeout time.Duration
}

func New(deps Deps, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = telemetry.NewRecorder(nil)
	}
	mapper := proposal.NewMapper(deps.Resolver)
	mapper.OnDrop = recorder.Drop
	return &Pipeline{
		resolver:     deps.Resolver,
		fetcher:      deps.Fetcher,
		store:        deps.Store,
		mapper:       mapper,
		merger:       deps.Merger,
		writer:       deps.Writer,
		recorder:     recorder,
		retry:        cfg.Retry,
		workers:      cfg.Workers,
		fetchTimeout: cfg.FetchTimeout,
	}
}

// run carries the per-block state shared by the handlers.
type run struct {
	requestID string
	block     events.Block
	report    *Report
}

func (r *run) add(o Outcome) {
	r.report.Outcomes = append(r.report.Outcomes, o)
}

// ProcessBlock handles every event of block. Events are handled in
// dependency order: space registrations, plugin registrations, subspace
// changes, created proposals, role changes, executed proposals.
func (p *Pipeline) ProcessBlock(ctx context.Context, block events.Block) Report {
	start := time.Now()
	report := Report{Block: block.Number, RequestID: util.NewRequestID()}
	r := &run{requestID: report.RequestID, block: block, report: &report}

	log.Printf("pipeline: block start request_id=%s block=%d events=%d", r.requestID, block.Number, block.Len())

	p.handleSpacesCreated(ctx, r)
	p.handleGovernancePlugins(ctx, r)
	p.handlePersonalPlugins(ctx, r)
	p.handleSubspaces(ctx, r, events.KindSubspaceAdded, block.SubspacesAdded)
	p.handleSubspaces(ctx, r, events.KindSubspaceRemoved, block.SubspacesRemoved)
	p.handleProposalsCreated(ctx, r)
	p.handleRoles(ctx, r, events.KindEditorAdded, block.EditorsAdded)
	p.handleRoles(ctx, r, events.KindEditorRemoved, block.EditorsRemoved)
	p.handleRoles(ctx, r, events.KindMemberAdded, block.MembersAdded)
	p.handleRoles(ctx, r, events.KindMemberRemoved, block.MembersRemoved)
	p.handleProposalsExecuted(ctx, r)

	report.Duration = time.Since(start)
	p.recorder.BlockDone(block.Number, report.Duration)
	log.Printf("pipeline: block done request_id=%s block=%d proposals=%d versions=%d failures=%d elapsed=%s",
		r.requestID, block.Number, report.ProposalsWritten, report.VersionsWritten, len(report.Failures()), report.Duration)
	return report
}

// fail records and logs a failed event.
func (p *Pipeline) fail(r *run, o Outcome) {
	p.recorder.Failure(r.requestID, string(o.Stage), o.Reason, fmt.Sprintf("kind=%s key=%s", o.Kind, o.Key), o.Err)
	r.add(o)
}

// withRetry runs fn under the retry policy, counting every retried attempt
// against stage.
func (p *Pipeline) withRetry(ctx context.Context, r *run, stage Stage, fn func(ctx context.Context) error) error {
	policy := p.retry
	policy.OnRetry = func(err error, attempt int) {
		p.recorder.Retry(r.requestID, string(stage), attempt, err)
	}
	return policy.Do(ctx, fn)
}

func (p *Pipeline) fetch(ctx context.Context, r *run, uri string) ([]byte, error) {
	var body []byte
	err := p.withRetry(ctx, r, StageFetching, func(ctx context.Context) error {
		fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
		b, err := p.fetcher.Fetch(fetchCtx, uri)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

// resolveReason maps a resolver error onto a failure reason.
func resolveReason(err error) string {
	if errors.Is(err, resolver.ErrSpaceNotFound) {
		return ReasonSpaceNotFound
	}
	return ReasonLookup
}

func fetchReason(err error) string {
	switch {
	case errors.Is(err, ipfs.ErrMalformedURI):
		return ReasonMalformedURI
	case errors.Is(err, ipfs.ErrUnavailable):
		return ReasonUnavailable
	case errors.Is(err, ipfs.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	default:
		return ReasonNetwork
	}
}

func decodeReason(err error) string {
	if errors.Is(err, payload.ErrUnsupportedType) {
		return ReasonUnsupportedType
	}
	return ReasonDecode
}

func writeReason(err error) string {
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	return ReasonWrite
}
