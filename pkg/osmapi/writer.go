package osmapi

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/osm"

	"github.com/systemed/conflation/pkg/changeset"
	"github.com/systemed/conflation/pkg/core"
	"github.com/systemed/conflation/pkg/graph"
	"github.com/systemed/conflation/pkg/tracing"
)

// ErrNoCredentials is returned by writes when no username or password is set.
var ErrNoCredentials = errors.New("osm credentials not configured")

var _ changeset.Writer = (*Client)(nil)

type changesetDoc struct {
	XMLName   xml.Name `xml:"osm"`
	Changeset struct {
		Tags osm.Tags `xml:"tag"`
	} `xml:"changeset"`
}

func (c *Client) write(ctx context.Context, operation, method, path string, body []byte) ([]byte, error) {
	if !c.HasCredentials() {
		return nil, ErrNoCredentials
	}
	r := request{
		service:   tracing.ServiceOSMAPI,
		operation: operation,
		method:    method,
		url:       c.baseURL + path,
		body:      body,
		auth:      true,
		retry:     core.NoRetry,
	}
	if body != nil {
		r.contentType = "text/xml; charset=utf-8"
	}
	return c.do(ctx, r)
}

// closedError maps a 409 whose message says the changeset is closed to
// changeset.ErrChangesetClosed.
func closedError(err error) error {
	mcpErr, ok := core.AsMCPError(err)
	if ok && mcpErr.Status == http.StatusConflict && strings.Contains(strings.ToLower(mcpErr.Message), "closed") {
		return fmt.Errorf("%w: %w", changeset.ErrChangesetClosed, err)
	}
	return err
}

// OpenChangeset creates a changeset carrying tags and returns its id.
func (c *Client) OpenChangeset(ctx context.Context, tags map[string]string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "osmapi.changeset.create")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	var doc changesetDoc
	doc.Changeset.Tags = osm.Tags{}
	for k, v := range tags {
		doc.Changeset.Tags = append(doc.Changeset.Tags, osm.Tag{Key: k, Value: v})
	}
	sort.Slice(doc.Changeset.Tags, func(i, j int) bool {
		return doc.Changeset.Tags[i].Key < doc.Changeset.Tags[j].Key
	})

	body, err := xml.Marshal(doc)
	if err != nil {
		return 0, err
	}

	data, err := c.write(ctx, "changeset_create", http.MethodPut, "/api/0.6/changeset/create", body)
	if err != nil {
		return 0, err
	}

	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, core.NewError(core.ErrParseError, fmt.Sprintf("unexpected changeset id %q", data))
	}
	return id, nil
}

type diffEntry struct {
	OldID      int64 `xml:"old_id,attr"`
	NewID      int64 `xml:"new_id,attr"`
	NewVersion int   `xml:"new_version,attr"`
}

type diffResultDoc struct {
	XMLName   xml.Name    `xml:"diffResult"`
	Nodes     []diffEntry `xml:"node"`
	Ways      []diffEntry `xml:"way"`
	Relations []diffEntry `xml:"relation"`
}

// ParseDiffResult decodes the body of a successful upload.
func ParseDiffResult(data []byte) ([]changeset.DiffResult, error) {
	var doc diffResultDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, core.NewError(core.ErrParseError, fmt.Sprintf("decoding diff result: %v", err))
	}

	out := make([]changeset.DiffResult, 0, len(doc.Nodes)+len(doc.Ways)+len(doc.Relations))
	add := func(kind graph.Kind, entries []diffEntry) {
		for _, e := range entries {
			// Deleted entities carry no new id.
			if e.NewID == 0 {
				continue
			}
			out = append(out, changeset.DiffResult{
				Kind:       kind,
				OldID:      graph.ID(e.OldID),
				NewID:      graph.ID(e.NewID),
				NewVersion: e.NewVersion,
			})
		}
	}
	add(graph.KindNode, doc.Nodes)
	add(graph.KindWay, doc.Ways)
	add(graph.KindRelation, doc.Relations)
	return out, nil
}

// Upload posts change to an open changeset and returns the id mapping.
func (c *Client) Upload(ctx context.Context, changesetID int64, change *osm.Change) ([]changeset.DiffResult, error) {
	ctx, span := tracing.StartSpan(ctx, "osmapi.changeset.upload")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	body, err := xml.Marshal(change)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/api/0.6/changeset/%d/upload", changesetID)
	data, err := c.write(ctx, "changeset_upload", http.MethodPost, path, body)
	if err != nil {
		err = closedError(err)
		return nil, err
	}

	results, err := ParseDiffResult(data)
	if err != nil {
		return nil, err
	}
	c.logger.Info("changeset uploaded", "changeset", changesetID, "entities", len(results))
	return results, nil
}

// CloseChangeset closes changesetID.
func (c *Client) CloseChangeset(ctx context.Context, changesetID int64) error {
	ctx, span := tracing.StartSpan(ctx, "osmapi.changeset.close")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	path := fmt.Sprintf("/api/0.6/changeset/%d/close", changesetID)
	_, err = c.write(ctx, "changeset_close", http.MethodPut, path, nil)
	if err != nil {
		err = closedError(err)
	}
	return err
}
