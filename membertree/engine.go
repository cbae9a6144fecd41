package membertree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("membertree")

// PositionPolicy decides what happens when a registration asks for a sponsor slot that is
// already taken.
type PositionPolicy int

const (
	// PositionPolicySpill ignores the occupied preference and spills breadth-first.
	PositionPolicySpill PositionPolicy = iota
	// PositionPolicyStrict rejects the registration with ErrPositionUnavailable.
	PositionPolicyStrict
)

func ParsePositionPolicy(s string) (PositionPolicy, error) {
	switch s {
	case "", "spill":
		return PositionPolicySpill, nil
	case "strict":
		return PositionPolicyStrict, nil
	}
	return PositionPolicySpill, fmt.Errorf("unknown position policy %q (want spill or strict)", s)
}

func (p PositionPolicy) String() string {
	if p == PositionPolicyStrict {
		return "strict"
	}
	return "spill"
}

const DefaultMaxAttempts = 5

type Config struct {
	Logger         *slog.Logger
	PositionPolicy PositionPolicy

	// MaxAttempts bounds how many times a placement transaction is run when commits keep
	// conflicting. Zero means DefaultMaxAttempts.
	MaxAttempts int

	// DownlineCacheSize is the number of downline views kept per store revision. Zero or
	// less disables the cache.
	DownlineCacheSize int

	Now   func() time.Time
	NewID func() string
}

type downlineKey struct {
	rev      uint64
	code     string
	maxDepth int
}

// Engine places members into the tree and answers read-only queries about it.
//
// Placements are serialized inside one process by placeLk; across processes the store's
// revision check turns an interleaving into ErrConcurrentModification, after which the
// whole transaction is rerun from a fresh snapshot. Reads take no lock.
type Engine struct {
	store       Store
	logger      *slog.Logger
	policy      PositionPolicy
	maxAttempts int
	now         func() time.Time
	newID       func() string

	placeLk sync.Mutex

	downlines *lru.Cache[downlineKey, *DownlineNode]
}

func NewEngine(store Store, config Config) (*Engine, error) {
	if store == nil {
		return nil, errors.New("membertree: nil store")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:       store,
		logger:      logger.With("component", "membertree"),
		policy:      config.PositionPolicy,
		maxAttempts: config.MaxAttempts,
		now:         config.Now,
		newID:       config.NewID,
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = DefaultMaxAttempts
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if config.DownlineCacheSize > 0 {
		cache, err := lru.New[downlineKey, *DownlineNode](config.DownlineCacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating downline cache: %w", err)
		}
		e.downlines = cache
	}
	return e, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func requireCode(code string) error {
	if code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	return nil
}

func (e *Engine) snapshotIndex(ctx context.Context) (*treeIndex, uint64, error) {
	members, rev, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("reading member snapshot: %w", err)
	}
	ix, err := newTreeIndex(members)
	if err != nil {
		return nil, 0, err
	}
	return ix, rev, nil
}

// ValidateSponsor reports whether sponsorCode exists and which of its direct slots are free.
func (e *Engine) ValidateSponsor(ctx context.Context, sponsorCode string) (_ *SponsorStatus, err error) {
	ctx, span := tracer.Start(ctx, "ValidateSponsor", trace.WithAttributes(attribute.String("sponsor_code", sponsorCode)))
	defer func() { endSpan(span, err) }()

	if err := requireCode(sponsorCode); err != nil {
		return nil, err
	}
	ix, _, err := e.snapshotIndex(ctx)
	if err != nil {
		return nil, err
	}
	sponsor, ok := ix.get(sponsorCode)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSponsorNotFound, sponsorCode)
	}
	status := &SponsorStatus{
		SponsorCode:    sponsor.Code,
		SponsorName:    sponsor.Name,
		LeftAvailable:  sponsor.LeftChildCode == "",
		RightAvailable: sponsor.RightChildCode == "",
	}
	status.DirectFull = !status.LeftAvailable && !status.RightAvailable
	return status, nil
}

// PlaceMember creates a member and links it into the tree in a single store commit.
//
// The first member of an empty store becomes the root. Otherwise the member goes into the
// sponsor's preferred slot when that is free, or else into the first free slot found by a
// breadth-first walk of the sponsor's subtree.
func (e *Engine) PlaceMember(ctx context.Context, reg Registration) (_ *Placement, err error) {
	ctx, span := tracer.Start(ctx, "PlaceMember")
	defer func() { endSpan(span, err) }()

	reg.Normalize()
	if err := reg.Validate(); err != nil {
		placementsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	span.SetAttributes(
		attribute.String("member_code", reg.Code),
		attribute.String("sponsor_code", reg.SponsorCode),
		attribute.String("preferred_position", string(reg.PreferredPosition)),
	)

	e.placeLk.Lock()
	defer e.placeLk.Unlock()

	start := time.Now()
	defer func() {
		placementDuration.Observe(time.Since(start).Seconds())
	}()

	var placement *Placement
	for attempt := 1; ; attempt++ {
		placement, err = e.placeOnce(ctx, reg)
		if err == nil || !IsRetryable(err) || attempt >= e.maxAttempts {
			break
		}
		placementConflicts.Inc()
		e.logger.Warn("placement conflicted with a concurrent commit, retrying", "code", reg.Code, "attempt", attempt)
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
			break
		}
	}

	e.recordPlacement(reg, placement, err)
	return placement, err
}

func (e *Engine) recordPlacement(reg Registration, p *Placement, err error) {
	switch {
	case err == nil && p.Root:
		placementsTotal.WithLabelValues("root").Inc()
		e.logger.Info("created root member", "code", p.Code)
	case err == nil && p.Spilled:
		placementsTotal.WithLabelValues("spilled").Inc()
		spillsTotal.Inc()
		e.logger.Info("placed member", "code", p.Code, "sponsor", reg.SponsorCode, "parent", p.ParentCode, "position", p.Position, "spilled", true)
	case err == nil:
		placementsTotal.WithLabelValues("direct").Inc()
		e.logger.Info("placed member", "code", p.Code, "sponsor", reg.SponsorCode, "parent", p.ParentCode, "position", p.Position, "spilled", false)
	case errors.Is(err, ErrTreeInvariantViolation):
		placementsTotal.WithLabelValues("invariant").Inc()
		treeInvariantViolations.Inc()
		e.logger.Error("member tree is inconsistent, placement aborted", "code", reg.Code, "sponsor", reg.SponsorCode, "err", err)
	case IsRetryable(err):
		placementsTotal.WithLabelValues("conflict").Inc()
		e.logger.Warn("placement gave up after repeated conflicts", "code", reg.Code, "attempts", e.maxAttempts, "err", err)
	default:
		placementsTotal.WithLabelValues("rejected").Inc()
		e.logger.Debug("placement rejected", "code", reg.Code, "err", err)
	}
}

// placeOnce runs one snapshot, place, commit cycle.
func (e *Engine) placeOnce(ctx context.Context, reg Registration) (*Placement, error) {
	ix, rev, err := e.snapshotIndex(ctx)
	if err != nil {
		return nil, err
	}

	if _, ok := ix.get(reg.Code); ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCode, reg.Code)
	}
	if ix.hasEmail(reg.Email) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEmail, reg.Email)
	}

	m := &Member{
		ID:          e.newID(),
		Code:        reg.Code,
		Name:        reg.Name,
		Email:       reg.Email,
		SponsorCode: reg.SponsorCode,
		JoinedAt:    e.now().UTC(),
	}
	placement := &Placement{Code: m.Code}

	if ix.len() == 0 {
		placement.Root = true
	} else {
		if reg.SponsorCode == "" {
			return nil, ErrSponsorRequired
		}
		sponsor, ok := ix.get(reg.SponsorCode)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSponsorNotFound, reg.SponsorCode)
		}
		parent, slot, err := e.chooseSlot(ix, sponsor, reg.PreferredPosition)
		if err != nil {
			return nil, err
		}
		if err := attach(ix, m, parent, slot); err != nil {
			return nil, err
		}
		if err := incrementCounts(ix, parent.Code, slot); err != nil {
			return nil, err
		}
		placement.ParentCode = parent.Code
		placement.Position = slot
		placement.Spilled = parent.Code != sponsor.Code
	}
	ix.add(m)

	if _, err := e.store.Commit(ctx, rev, ix.changed()); err != nil {
		return nil, fmt.Errorf("committing placement of %s: %w", m.Code, err)
	}
	treeMembers.Set(float64(ix.len()))
	return placement, nil
}

func (e *Engine) chooseSlot(ix *treeIndex, sponsor *Member, preferred Position) (*Member, Position, error) {
	if preferred != "" {
		if sponsor.Child(preferred) == "" {
			return sponsor, preferred, nil
		}
		if e.policy == PositionPolicyStrict {
			return nil, "", fmt.Errorf("%w: %s slot of %s holds %s", ErrPositionUnavailable, preferred, sponsor.Code, sponsor.Child(preferred))
		}
	}
	return findInsertionPoint(ix, sponsor.Code)
}

// GetDownline returns the full subtree rooted at code.
func (e *Engine) GetDownline(ctx context.Context, code string) (*DownlineNode, error) {
	return e.GetDownlineDepth(ctx, code, 0)
}

// GetDownlineDepth is GetDownline limited to maxDepth levels below code; zero means no limit.
// Returned views may be shared with other callers through the cache and must not be modified.
func (e *Engine) GetDownlineDepth(ctx context.Context, code string, maxDepth int) (_ *DownlineNode, err error) {
	ctx, span := tracer.Start(ctx, "GetDownline", trace.WithAttributes(
		attribute.String("member_code", code),
		attribute.Int("max_depth", maxDepth),
	))
	defer func() { endSpan(span, err) }()

	if err := requireCode(code); err != nil {
		return nil, err
	}
	if maxDepth < 0 {
		return nil, fmt.Errorf("%w: negative depth %d", ErrInvalidInput, maxDepth)
	}

	if e.downlines != nil {
		rev, err := e.store.Revision(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading store revision: %w", err)
		}
		if view, ok := e.downlines.Get(downlineKey{rev: rev, code: code, maxDepth: maxDepth}); ok {
			downlineCacheHits.Inc()
			return view, nil
		}
	}

	ix, rev, err := e.snapshotIndex(ctx)
	if err != nil {
		return nil, err
	}
	view, err := buildDownline(ix, code, maxDepth)
	if err != nil {
		if errors.Is(err, ErrTreeInvariantViolation) {
			treeInvariantViolations.Inc()
			e.logger.Error("member tree is inconsistent, downline aborted", "code", code, "err", err)
		}
		return nil, err
	}
	if e.downlines != nil {
		downlineCacheMisses.Inc()
		e.downlines.Add(downlineKey{rev: rev, code: code, maxDepth: maxDepth}, view)
	}
	return view, nil
}

func (e *Engine) GetStats(ctx context.Context, code string) (_ *Stats, err error) {
	ctx, span := tracer.Start(ctx, "GetStats", trace.WithAttributes(attribute.String("member_code", code)))
	defer func() { endSpan(span, err) }()

	if err := requireCode(code); err != nil {
		return nil, err
	}
	ix, _, err := e.snapshotIndex(ctx)
	if err != nil {
		return nil, err
	}
	m, ok := ix.get(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, code)
	}
	stats := &Stats{
		TotalMembers: m.LeftCount + m.RightCount,
		LeftCount:    m.LeftCount,
		RightCount:   m.RightCount,
	}
	if m.LeftChildCode != "" {
		stats.DirectLeft = 1
	}
	if m.RightChildCode != "" {
		stats.DirectRight = 1
	}
	return stats, nil
}

// GetMember returns a copy of a single stored member.
func (e *Engine) GetMember(ctx context.Context, code string) (*Member, error) {
	if err := requireCode(code); err != nil {
		return nil, err
	}
	ix, _, err := e.snapshotIndex(ctx)
	if err != nil {
		return nil, err
	}
	m, ok := ix.get(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, code)
	}
	out := *m
	return &out, nil
}

// Verify runs the full consistency check against the current store contents.
func (e *Engine) Verify(ctx context.Context) (int, error) {
	members, _, err := e.store.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading member snapshot: %w", err)
	}
	return len(members), Verify(members)
}

// Import loads a complete, already placed member set into an empty store in one commit.
func (e *Engine) Import(ctx context.Context, members []Member) error {
	members = append([]Member(nil), members...)
	for i := range members {
		if err := ValidateCode(members[i].Code); err != nil {
			return err
		}
		// older exports carry no ids
		if members[i].ID == "" {
			members[i].ID = e.newID()
		}
	}
	if err := Verify(members); err != nil {
		return fmt.Errorf("refusing to import inconsistent member set: %w", err)
	}

	e.placeLk.Lock()
	defer e.placeLk.Unlock()

	existing, rev, err := e.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("reading member snapshot: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("import requires an empty store, found %d members", len(existing))
	}
	if _, err := e.store.Commit(ctx, rev, members); err != nil {
		return fmt.Errorf("committing import: %w", err)
	}
	treeMembers.Set(float64(len(members)))
	e.logger.Info("imported member set", "members", len(members))
	return nil
}

// Ping checks that the store answers a revision read.
func (e *Engine) Ping(ctx context.Context) error {
	_, err := e.store.Revision(ctx)
	return err
}
