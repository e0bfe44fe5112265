package changeset_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemed/conflation/pkg/changeset"
	"github.com/systemed/conflation/pkg/geo"
	"github.com/systemed/conflation/pkg/graph"
)

type fakeWriter struct {
	mu        sync.Mutex
	nextID    int64
	opened    []map[string]string
	uploads   []*osm.Change
	closed    []int64
	openErr   error
	uploadErr error
	// block, when set, holds Upload until it is closed.
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeWriter) OpenChangeset(_ context.Context, tags map[string]string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return 0, f.openErr
	}
	f.nextID++
	f.opened = append(f.opened, tags)
	return 1000 + f.nextID, nil
}

func (f *fakeWriter) Upload(_ context.Context, _ int64, change *osm.Change) ([]changeset.DiffResult, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads = append(f.uploads, change)

	var results []changeset.DiffResult
	next := graph.ID(5000)
	add := func(kind graph.Kind, id int64, version int) {
		r := changeset.DiffResult{Kind: kind, OldID: graph.ID(id), NewID: graph.ID(id), NewVersion: version + 1}
		if id < 0 {
			next++
			r.NewID, r.NewVersion = next, 1
		}
		results = append(results, r)
	}
	for _, sec := range []*osm.OSM{change.Create, change.Modify} {
		if sec == nil {
			continue
		}
		for _, n := range sec.Nodes {
			add(graph.KindNode, int64(n.ID), n.Version)
		}
		for _, w := range sec.Ways {
			add(graph.KindWay, int64(w.ID), w.Version)
		}
		for _, r := range sec.Relations {
			add(graph.KindRelation, int64(r.ID), r.Version)
		}
	}
	return results, nil
}

func (f *fakeWriter) CloseChangeset(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	return nil
}

// editedStore holds one modified node and a new two-node way.
func editedStore(t *testing.T) *graph.Store {
	t.Helper()
	s := graph.NewStore()
	s.Ingest(&osm.OSM{Nodes: osm.Nodes{{ID: 7, Version: 3, Lat: 51.5, Lon: -0.1}}})
	s.SetTag(s.Node(7), "amenity", "cafe")

	a := graph.NewNode(s.NextPlaceholder(), 0, geo.Location{Latitude: 51.6, Longitude: -0.1}, nil)
	b := graph.NewNode(s.NextPlaceholder(), 0, geo.Location{Latitude: 51.6, Longitude: -0.2}, nil)
	w := graph.NewWay(s.NextPlaceholder(), 0, graph.Tags{"highway": "path"}, []*graph.Node{a, b})
	for _, e := range []graph.Entity{a, b, w} {
		s.Add(e)
		s.MarkDirty(e)
	}
	require.Equal(t, 4, s.DirtyCount())
	return s
}

func TestBuildChange(t *testing.T) {
	s := editedStore(t)
	change, created, modified := changeset.BuildChange(s.Dirty(), 42)

	assert.Equal(t, 3, created)
	assert.Equal(t, 1, modified)
	require.NotNil(t, change.Create)
	require.NotNil(t, change.Modify)
	assert.Nil(t, change.Delete)

	require.Len(t, change.Create.Nodes, 2)
	require.Len(t, change.Create.Ways, 1)
	assert.Equal(t, osm.NodeID(-1), change.Create.Nodes[0].ID)
	assert.Equal(t, osm.NodeID(-2), change.Create.Nodes[1].ID)
	assert.Equal(t, osm.ChangesetID(42), change.Create.Ways[0].ChangesetID)
	assert.Equal(t, osm.WayNodes{{ID: -1}, {ID: -2}}, change.Create.Ways[0].Nodes)

	require.Len(t, change.Modify.Nodes, 1)
	assert.Equal(t, 3, change.Modify.Nodes[0].Version)
	assert.Equal(t, "cafe", change.Modify.Nodes[0].Tags.Find("amenity"))
}

func TestUploadRoundTrip(t *testing.T) {
	s := editedStore(t)
	w := &fakeWriter{}
	c := changeset.NewCoordinator(s, w, changeset.Options{})

	assert.Equal(t, changeset.StatePending, c.State())

	res, err := c.Upload(context.Background(), "survey")
	require.NoError(t, err)

	assert.Equal(t, int64(1001), res.ChangesetID)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 1, res.Modified)
	assert.Equal(t, 4, res.Reconciled)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, changeset.StateClean, res.State)
	assert.Equal(t, changeset.StateClean, c.State())

	require.Len(t, w.opened, 1)
	assert.Equal(t, "Live Conflation", w.opened[0]["created_by"])
	assert.Equal(t, "survey", w.opened[0]["comment"])

	assert.Equal(t, 0, s.DirtyCount())
	assert.Nil(t, s.Node(-1))
	require.NotNil(t, s.Way(5003))
	assert.Equal(t, 1, s.Way(5003).Version())
	assert.Equal(t, 4, s.Node(7).Version())
	nodes := s.Way(5003).Nodes()
	assert.Equal(t, graph.ID(5001), nodes[0].ID())
	assert.Equal(t, graph.ID(5002), nodes[1].ID())
}

func TestUploadReusesChangeset(t *testing.T) {
	s := editedStore(t)
	w := &fakeWriter{}
	c := changeset.NewCoordinator(s, w, changeset.Options{})

	_, err := c.Upload(context.Background(), "")
	require.NoError(t, err)

	s.SetTag(s.Node(7), "name", "Corner")
	assert.Equal(t, changeset.StateSessionOpen, c.State())

	res, err := c.Upload(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), res.ChangesetID)
	assert.Len(t, w.opened, 1)
	assert.Len(t, w.uploads, 2)
	assert.Equal(t, 5, s.Node(7).Version())

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, []int64{1001}, w.closed)
	assert.Zero(t, c.ChangesetID())
}

func TestUploadNothingDirty(t *testing.T) {
	w := &fakeWriter{}
	c := changeset.NewCoordinator(graph.NewStore(), w, changeset.Options{})

	res, err := c.Upload(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, changeset.StateClean, res.State)
	assert.Empty(t, w.opened)
	assert.Empty(t, w.uploads)
}

func TestUploadFailureLeavesStore(t *testing.T) {
	s := editedStore(t)
	w := &fakeWriter{uploadErr: errors.New("boom")}
	c := changeset.NewCoordinator(s, w, changeset.Options{})

	_, err := c.Upload(context.Background(), "")
	require.ErrorIs(t, err, changeset.ErrUpload)

	assert.Equal(t, 4, s.DirtyCount())
	assert.NotNil(t, s.Node(-1))
	assert.Equal(t, 3, s.Node(7).Version())
	assert.Equal(t, changeset.StateSessionOpen, c.State())
	assert.False(t, c.Uploading())

	w.uploadErr = nil
	res, err := c.Upload(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remaining)
	assert.Len(t, w.opened, 1, "retry reuses the changeset")
}

func TestUploadOpenFailure(t *testing.T) {
	s := editedStore(t)
	w := &fakeWriter{openErr: errors.New("unauthorized")}
	c := changeset.NewCoordinator(s, w, changeset.Options{})

	res, err := c.Upload(context.Background(), "")
	require.ErrorIs(t, err, changeset.ErrSessionOpen)
	assert.Equal(t, changeset.StatePending, res.State)
	assert.Equal(t, 4, s.DirtyCount())
}

func TestUploadClosedChangeset(t *testing.T) {
	s := editedStore(t)
	w := &fakeWriter{}
	c := changeset.NewCoordinator(s, w, changeset.Options{})

	_, err := c.Upload(context.Background(), "")
	require.NoError(t, err)
	s.SetTag(s.Node(7), "name", "Corner")

	w.uploadErr = changeset.ErrChangesetClosed
	_, err = c.Upload(context.Background(), "")
	require.ErrorIs(t, err, changeset.ErrChangesetClosed)
	assert.Zero(t, c.ChangesetID())
	assert.Equal(t, changeset.StatePending, c.State())

	w.uploadErr = nil
	res, err := c.Upload(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1002), res.ChangesetID)
}

func TestUploadInProgress(t *testing.T) {
	s := editedStore(t)
	w := &fakeWriter{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := changeset.NewCoordinator(s, w, changeset.Options{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Upload(context.Background(), "")
		done <- err
	}()
	<-w.entered

	assert.True(t, c.Uploading())
	assert.Equal(t, changeset.StateUploading, c.State())

	_, err := c.Upload(context.Background(), "")
	assert.ErrorIs(t, err, changeset.ErrUploadInProgress)
	assert.ErrorIs(t, c.Close(context.Background()), changeset.ErrUploadInProgress)

	close(w.block)
	require.NoError(t, <-done)
	assert.False(t, c.Uploading())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "session_open", changeset.StateSessionOpen.String())
	assert.Equal(t, "uploaded", changeset.StateUploaded.String())
}
