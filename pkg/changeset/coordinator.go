// Package changeset turns the dirty part of a graph.Store into uploads and
// reconciles the server's id assignments afterwards.
package changeset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/osm"
	"go.opentelemetry.io/otel/attribute"

	"github.com/systemed/conflation/pkg/graph"
	"github.com/systemed/conflation/pkg/monitoring"
	"github.com/systemed/conflation/pkg/tracing"
)

// State is the coordinator's position in the upload cycle.
type State int

const (
	// StateClean means nothing is waiting to be uploaded.
	StateClean State = iota
	// StatePending means there are dirty entities and no open changeset.
	StatePending
	// StateSessionOpen means a changeset is held for the current editing pass.
	StateSessionOpen
	// StateUploading means an upload is in flight.
	StateUploading
	// StateUploaded means the last payload was accepted. It is reported in
	// Result and settles into Clean or SessionOpen.
	StateUploaded
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StatePending:
		return "pending"
	case StateSessionOpen:
		return "session_open"
	case StateUploading:
		return "uploading"
	case StateUploaded:
		return "uploaded"
	default:
		return "unknown"
	}
}

var (
	// ErrUploadInProgress is returned when an upload or close is attempted
	// while another upload is in flight.
	ErrUploadInProgress = errors.New("upload already in progress")
	// ErrSessionOpen wraps failures to open a changeset.
	ErrSessionOpen = errors.New("opening changeset failed")
	// ErrUpload wraps failures of the upload call itself.
	ErrUpload = errors.New("changeset upload failed")
	// ErrChangesetClosed may be wrapped by a Writer when the server reports
	// the changeset as closed. The coordinator then opens a new one next time.
	ErrChangesetClosed = errors.New("changeset closed")
)

// Writer is the remote side of an upload.
type Writer interface {
	OpenChangeset(ctx context.Context, tags map[string]string) (int64, error)
	Upload(ctx context.Context, changesetID int64, change *osm.Change) ([]DiffResult, error)
	CloseChangeset(ctx context.Context, changesetID int64) error
}

// Options configures a Coordinator.
type Options struct {
	// CreatedBy is the created_by changeset tag.
	CreatedBy string
	// Locker guards the store. It must be the lock every other store user holds.
	Locker sync.Locker
	Logger *slog.Logger
}

// Result describes a finished upload.
type Result struct {
	ChangesetID int64 `json:"changeset_id"`
	Created     int   `json:"created"`
	Modified    int   `json:"modified"`
	Reconciled  int   `json:"reconciled"`
	Remaining   int   `json:"remaining"`
	// State is the state after the upload settled.
	State State `json:"-"`
}

// Coordinator runs the Clean → Pending → SessionOpen → Uploaded cycle for one store.
type Coordinator struct {
	store     *graph.Store
	writer    Writer
	storeLock sync.Locker
	createdBy string
	logger    *slog.Logger

	mu          sync.Mutex
	changesetID int64
	uploading   bool
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// NewCoordinator creates a coordinator for store, uploading through w.
func NewCoordinator(store *graph.Store, w Writer, opts Options) *Coordinator {
	if opts.Locker == nil {
		opts.Locker = noopLocker{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CreatedBy == "" {
		opts.CreatedBy = "Live Conflation"
	}
	return &Coordinator{
		store:     store,
		writer:    w,
		storeLock: opts.Locker,
		createdBy: opts.CreatedBy,
		logger:    opts.Logger.With("component", "changeset"),
	}
}

// State reports the current state. It takes the store lock, so callers
// must not hold it.
func (c *Coordinator) State() State {
	c.mu.Lock()
	uploading, id := c.uploading, c.changesetID
	c.mu.Unlock()

	if uploading {
		return StateUploading
	}

	c.storeLock.Lock()
	dirty := c.store.DirtyCount()
	c.storeLock.Unlock()

	return settle(dirty, id)
}

func settle(dirty int, changesetID int64) State {
	switch {
	case dirty == 0:
		return StateClean
	case changesetID == 0:
		return StatePending
	default:
		return StateSessionOpen
	}
}

// ChangesetID returns the open changeset id, or 0.
func (c *Coordinator) ChangesetID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changesetID
}

// Uploading reports whether an upload is in flight.
func (c *Coordinator) Uploading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploading
}

func (c *Coordinator) changesetTags(comment string) map[string]string {
	tags := map[string]string{"created_by": c.createdBy}
	if comment != "" {
		tags["comment"] = comment
	}
	return tags
}

// Upload sends every dirty entity. With nothing dirty it does nothing. A
// changeset is opened on first use and reused until Close. On failure the
// store is left untouched and the call may be retried.
func (c *Coordinator) Upload(ctx context.Context, comment string) (res Result, err error) {
	c.mu.Lock()
	if c.uploading {
		c.mu.Unlock()
		return Result{State: StateUploading}, ErrUploadInProgress
	}
	c.uploading = true
	id := c.changesetID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.uploading = false
		c.mu.Unlock()
	}()

	c.storeLock.Lock()
	dirty := c.store.DirtyCount()
	c.storeLock.Unlock()
	if dirty == 0 {
		return Result{ChangesetID: id, State: StateClean}, nil
	}

	ctx, span := tracing.StartSpan(ctx, "changeset.upload")
	defer func() { tracing.EndSpan(span, err) }()
	span.SetAttributes(attribute.Int(tracing.AttrDirtyCount, dirty))
	start := time.Now()

	if id == 0 {
		id, err = c.writer.OpenChangeset(ctx, c.changesetTags(comment))
		if err != nil {
			c.logger.Error("failed to open changeset", "error", err)
			monitoring.RecordError("changeset", "open")
			return Result{State: StatePending}, fmt.Errorf("%w: %w", ErrSessionOpen, err)
		}
		c.mu.Lock()
		c.changesetID = id
		c.mu.Unlock()
		c.logger.Info("opened changeset", "changeset", id)
	}

	c.storeLock.Lock()
	change, created, modified := BuildChange(c.store.Dirty(), id)
	c.storeLock.Unlock()
	span.SetAttributes(tracing.UploadAttributes(id, created, modified)...)

	results, err := c.writer.Upload(ctx, id, change)
	if err != nil {
		if errors.Is(err, ErrChangesetClosed) {
			c.mu.Lock()
			c.changesetID = 0
			c.mu.Unlock()
			id = 0
		}
		monitoring.RecordUpload(time.Since(start), false, created, modified)
		c.logger.Error("upload failed", "changeset", id, "error", err)
		return Result{ChangesetID: id, State: settle(dirty, id)}, fmt.Errorf("%w: %w", ErrUpload, err)
	}

	c.storeLock.Lock()
	reconciled := 0
	for _, r := range results {
		if c.store.ReassignID(r.Kind, r.OldID, r.NewID, r.NewVersion) {
			reconciled++
		}
	}
	remaining := c.store.DirtyCount()
	c.storeLock.Unlock()

	monitoring.RecordUpload(time.Since(start), true, created, modified)
	monitoring.SetDirtyEntities(remaining)
	c.logger.Info("uploaded changes",
		"changeset", id,
		"created", created,
		"modified", modified,
		"reconciled", reconciled,
		"remaining", remaining,
		"state", StateUploaded.String())

	return Result{
		ChangesetID: id,
		Created:     created,
		Modified:    modified,
		Reconciled:  reconciled,
		Remaining:   remaining,
		State:       settle(remaining, id),
	}, nil
}

// Close closes the open changeset, if any, ending the editing pass.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.uploading {
		return ErrUploadInProgress
	}
	if c.changesetID == 0 {
		return nil
	}
	if err := c.writer.CloseChangeset(ctx, c.changesetID); err != nil && !errors.Is(err, ErrChangesetClosed) {
		return fmt.Errorf("closing changeset %d: %w", c.changesetID, err)
	}
	c.logger.Info("closed changeset", "changeset", c.changesetID)
	c.changesetID = 0
	return nil
}
