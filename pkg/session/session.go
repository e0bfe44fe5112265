// Package session runs one interactive conflation pass: it fetches the
// area around each reviewed feature, proposes edits, applies the ones the
// user accepts and hands the result to the upload coordinator.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"github.com/systemed/conflation/pkg/cache"
	"github.com/systemed/conflation/pkg/changeset"
	"github.com/systemed/conflation/pkg/conflate"
	"github.com/systemed/conflation/pkg/geo"
	"github.com/systemed/conflation/pkg/graph"
	"github.com/systemed/conflation/pkg/journal"
	"github.com/systemed/conflation/pkg/monitoring"
	"github.com/systemed/conflation/pkg/tracing"
)

const (
	// DefaultFetchDelta is the half-width in degrees of the area fetched around a click.
	DefaultFetchDelta = 0.001
	// DefaultProposalTTL is how long a proposal can still be accepted.
	DefaultProposalTTL = 15 * time.Minute
	// DefaultCreatedBy is the created_by tag of every changeset.
	DefaultCreatedBy = "Live Conflation"

	maxProposals = 256
)

var (
	// ErrProposalNotFound is returned for unknown or expired proposal ids.
	ErrProposalNotFound = errors.New("proposal not found")
	// ErrEditNotFound is returned when an edit index is out of range.
	ErrEditNotFound = errors.New("edit not found")
	// ErrEntityNotFound is returned by lookups of ids the store does not hold.
	ErrEntityNotFound = errors.New("entity not found")
)

// Reader fetches the entities in an area.
type Reader interface {
	Map(ctx context.Context, bbox geo.BoundingBox) (*osm.OSM, error)
}

// invalidator is implemented by readers that cache areas.
type invalidator interface {
	InvalidateMaps()
}

// Options configures a Session. Reader and Writer are required.
type Options struct {
	Reader Reader
	Writer changeset.Writer
	// Journal persists reviews. Nil keeps them in memory only.
	Journal *journal.Journal

	Comment           string
	CreatedBy         string
	FetchDelta        float64
	ProposalTTL       time.Duration
	MaxDistance       float64
	SimplifyTolerance float64
	Logger            *slog.Logger
}

// Session is safe for concurrent use. mu guards the store; network calls
// are made without holding it.
type Session struct {
	mu      sync.Mutex
	store   *graph.Store
	matcher *conflate.Matcher
	coord   *changeset.Coordinator

	reader    Reader
	journal   *journal.Journal
	proposals *cache.TTLCache[string, *Proposal]

	reviewMu sync.Mutex
	reviewed map[string]journal.Decision

	comment    string
	fetchDelta float64
	simplify   float64
	logger     *slog.Logger
}

// New creates a session with an empty store.
func New(opts Options) (*Session, error) {
	if opts.Reader == nil || opts.Writer == nil {
		return nil, errors.New("session needs a reader and a writer")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FetchDelta <= 0 {
		opts.FetchDelta = DefaultFetchDelta
	}
	if opts.ProposalTTL <= 0 {
		opts.ProposalTTL = DefaultProposalTTL
	}
	if opts.CreatedBy == "" {
		opts.CreatedBy = DefaultCreatedBy
	}

	s := &Session{
		store:      graph.NewStore(),
		matcher:    conflate.NewMatcher(opts.Logger),
		reader:     opts.Reader,
		journal:    opts.Journal,
		proposals:  cache.NewTTLCache[string, *Proposal](opts.ProposalTTL, time.Minute, maxProposals),
		reviewed:   make(map[string]journal.Decision),
		comment:    opts.Comment,
		fetchDelta: opts.FetchDelta,
		simplify:   opts.SimplifyTolerance,
		logger:     opts.Logger.With("component", "session"),
	}
	if opts.MaxDistance > 0 {
		s.matcher.MaxDistance = opts.MaxDistance
	}
	s.coord = changeset.NewCoordinator(s.store, opts.Writer, changeset.Options{
		CreatedBy: opts.CreatedBy,
		Locker:    &s.mu,
		Logger:    opts.Logger,
	})
	s.proposals.OnEvict = func(id string, _ *Proposal) {
		monitoring.UpdateCacheSize(tracing.CacheTypeProposal, s.proposals.Count())
	}
	return s, nil
}

// Shutdown stops background work. It does not close the changeset.
func (s *Session) Shutdown() {
	s.proposals.Stop()
}

// Propose fetches the area around point, matches feature against it and
// caches the resulting edits under a new proposal id.
func (s *Session) Propose(ctx context.Context, feature *conflate.Feature, point geo.Location) (*Proposal, error) {
	if feature == nil {
		return nil, conflate.ErrNoGeometry
	}
	ctx, span := tracing.StartSpan(ctx, "session.propose")
	var err error
	defer func() { tracing.EndSpan(span, err) }()
	span.SetAttributes(tracing.FeatureAttributes(feature.ID, feature.Kind().String())...)

	bbox := geo.Around(point, s.fetchDelta)
	data, err := s.reader.Map(ctx, bbox)
	if err != nil {
		monitoring.RecordProposal("fetch_failed", 0)
		return nil, fmt.Errorf("fetching %s: %w", bbox, err)
	}

	s.mu.Lock()
	stats := s.store.Ingest(data)
	candidates := s.matcher.FindCandidates(feature, point, s.store)
	edits := conflate.Propose(feature, point, candidates)
	views := make([]EditView, len(edits))
	for i, e := range edits {
		views[i] = newEditView(i, e)
	}
	s.mu.Unlock()

	p := &Proposal{
		ID:         uuid.NewString(),
		FeatureID:  feature.ID,
		Reviewed:   s.isReviewed(ctx, feature.ID),
		Candidates: len(candidates),
		Fetched:    stats,
		Edits:      views,
		CreatedAt:  time.Now(),
		edits:      edits,
	}
	s.proposals.Set(p.ID, p)

	monitoring.RecordProposal(proposalOutcome(len(candidates), len(edits)), len(candidates))
	monitoring.UpdateCacheSize(tracing.CacheTypeProposal, s.proposals.Count())
	span.SetAttributes(tracing.ProposalAttributes(len(candidates), len(edits))...)

	s.logger.Info("proposed edits",
		"proposal", p.ID,
		"feature", feature.ID,
		"candidates", len(candidates),
		"edits", len(edits),
		"reviewed", p.Reviewed)
	return p, nil
}

func proposalOutcome(candidates, edits int) string {
	switch {
	case edits == 0:
		return "empty"
	case candidates == 0:
		return "create_only"
	default:
		return "matched"
	}
}

// Proposal returns a cached proposal.
func (s *Session) Proposal(id string) (*Proposal, error) {
	p, ok := s.proposals.Get(id)
	if !ok {
		monitoring.RecordCacheMiss(tracing.CacheTypeProposal)
		return nil, ErrProposalNotFound
	}
	monitoring.RecordCacheHit(tracing.CacheTypeProposal)
	return p, nil
}

// Accept applies edit index of a proposal. keys selects the tags to apply;
// nil applies every staged tag. The proposal is consumed on success.
func (s *Session) Accept(ctx context.Context, proposalID string, index int, keys []string) (AcceptResult, error) {
	p, err := s.Proposal(proposalID)
	if err != nil {
		return AcceptResult{}, err
	}
	if index < 0 || index >= len(p.edits) {
		return AcceptResult{}, fmt.Errorf("%w: index %d of %d", ErrEditNotFound, index, len(p.edits))
	}
	edit := p.edits[index]

	s.mu.Lock()
	if s.coord.Uploading() {
		s.mu.Unlock()
		return AcceptResult{}, changeset.ErrUploadInProgress
	}
	entity, err := conflate.Apply(s.store, edit, conflate.ApplyOptions{Keys: keys, SimplifyTolerance: s.simplify})
	if err != nil {
		s.mu.Unlock()
		return AcceptResult{}, err
	}
	res := AcceptResult{
		Kind:        entity.Kind().String(),
		EntityID:    int64(entity.ID()),
		Description: edit.Description(),
		Applied:     entity.Tags().Clone(),
		DirtyCount:  s.store.DirtyCount(),
	}
	s.mu.Unlock()

	s.proposals.Delete(proposalID)
	s.recordReview(ctx, journal.Review{
		FeatureID:  p.FeatureID,
		Decision:   journal.DecisionAccepted,
		ProposalID: proposalID,
		Summary:    res.Description,
	})

	monitoring.RecordEditApplied(string(edit.Action))
	monitoring.SetDirtyEntities(res.DirtyCount)
	s.logger.Info("accepted edit",
		"proposal", proposalID,
		"feature", p.FeatureID,
		"edit", res.Description,
		"entity", res.EntityID,
		"dirty", res.DirtyCount)
	return res, nil
}

// Ignore marks a feature as reviewed without changing the map.
func (s *Session) Ignore(ctx context.Context, featureID string) error {
	if featureID == "" {
		return errors.New("feature id is required")
	}
	s.recordReview(ctx, journal.Review{FeatureID: featureID, Decision: journal.DecisionIgnored})
	s.logger.Info("ignored feature", "feature", featureID)
	return nil
}

func (s *Session) recordReview(ctx context.Context, r journal.Review) {
	if r.FeatureID == "" {
		return
	}
	s.reviewMu.Lock()
	s.reviewed[r.FeatureID] = r.Decision
	s.reviewMu.Unlock()
	monitoring.RecordReview(string(r.Decision))

	if s.journal == nil {
		return
	}
	if err := s.journal.RecordReview(ctx, r); err != nil {
		monitoring.RecordError("journal", "write")
		s.logger.Warn("failed to persist review", "feature", r.FeatureID, "error", err)
	}
}

func (s *Session) isReviewed(ctx context.Context, featureID string) bool {
	if featureID == "" {
		return false
	}
	s.reviewMu.Lock()
	_, ok := s.reviewed[featureID]
	s.reviewMu.Unlock()
	if ok || s.journal == nil {
		return ok
	}

	ok, err := s.journal.IsReviewed(ctx, featureID)
	if err != nil {
		s.logger.Warn("failed to read review journal", "feature", featureID, "error", err)
	}
	return ok
}

// Upload sends every pending edit. An empty comment uses the session default.
func (s *Session) Upload(ctx context.Context, comment string) (changeset.Result, error) {
	if comment == "" {
		comment = s.comment
	}

	res, err := s.coord.Upload(ctx, comment)
	if err != nil {
		return res, err
	}
	if res.Created+res.Modified == 0 {
		return res, nil
	}

	// Cached areas predate the upload and would carry stale versions.
	if inv, ok := s.reader.(invalidator); ok {
		inv.InvalidateMaps()
	}
	if s.journal != nil {
		if err := s.journal.RecordUpload(ctx, journal.Upload{
			ChangesetID: res.ChangesetID,
			Created:     res.Created,
			Modified:    res.Modified,
			Comment:     comment,
		}); err != nil {
			monitoring.RecordError("journal", "write")
			s.logger.Warn("failed to persist upload", "changeset", res.ChangesetID, "error", err)
		}
	}
	return res, nil
}

// Close closes the open changeset, if any.
func (s *Session) Close(ctx context.Context) error {
	return s.coord.Close(ctx)
}

// Status reports the session state.
func (s *Session) Status(ctx context.Context) Status {
	st := Status{
		State:       s.coord.State().String(),
		ChangesetID: s.coord.ChangesetID(),
		Uploading:   s.coord.Uploading(),
		Proposals:   s.proposals.Count(),
	}

	s.mu.Lock()
	dirty := s.store.Dirty()
	st.Loaded.Nodes, st.Loaded.Ways, st.Loaded.Relations = s.store.Len()
	s.mu.Unlock()

	st.Dirty = DirtyCounts{
		Nodes:     len(dirty.Nodes),
		Ways:      len(dirty.Ways),
		Relations: len(dirty.Relations),
		Total:     dirty.Len(),
	}
	st.Reviewed = s.reviewCounts(ctx)

	if s.journal != nil {
		if ups, err := s.journal.Uploads(ctx, 1); err == nil && len(ups) > 0 {
			st.LastUpload = &ups[0]
		}
	}
	return st
}

func (s *Session) reviewCounts(ctx context.Context) map[string]int {
	counts := make(map[string]int)
	if s.journal != nil {
		if c, err := s.journal.ReviewCounts(ctx); err == nil {
			for d, n := range c {
				counts[string(d)] = n
			}
			return counts
		}
	}

	s.reviewMu.Lock()
	defer s.reviewMu.Unlock()
	for _, d := range s.reviewed {
		counts[string(d)]++
	}
	return counts
}

// Entity returns a snapshot of one stored entity.
func (s *Session) Entity(kind graph.Kind, id graph.ID) (EntityView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.store.Lookup(kind, id)
	if !ok {
		return EntityView{}, fmt.Errorf("%w: %s %d", ErrEntityNotFound, kind, id)
	}
	return EntityView{
		Kind:     kind.String(),
		ID:       int64(e.ID()),
		Version:  e.Version(),
		Dirty:    e.Dirty(),
		Area:     e.IsArea(),
		Tags:     e.Tags().Clone(),
		Geometry: e.Highlight(),
	}, nil
}

// Highlight returns the geometry to draw for an entity.
func (s *Session) Highlight(kind graph.Kind, id graph.ID) (orb.Geometry, error) {
	v, err := s.Entity(kind, id)
	if err != nil {
		return nil, err
	}
	if v.Geometry == nil {
		return nil, fmt.Errorf("%s %d has no drawable geometry", kind, id)
	}
	return v.Geometry, nil
}
