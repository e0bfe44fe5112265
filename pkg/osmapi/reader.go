package osmapi

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/paulmach/osm"
	"golang.org/x/sync/singleflight"

	"github.com/systemed/conflation/pkg/core"
	"github.com/systemed/conflation/pkg/geo"
	"github.com/systemed/conflation/pkg/tracing"
)

// areaCache serves recently fetched areas and collapses concurrent
// fetches of the same area into one request.
type areaCache struct {
	cacheType string
	lru       *expirable.LRU[string, *osm.OSM]
	group     singleflight.Group
}

func newAreaCache(cacheType string) *areaCache {
	return &areaCache{
		cacheType: cacheType,
		lru:       expirable.NewLRU[string, *osm.OSM](MapCacheSize, nil, MapCacheTTL),
	}
}

func (a *areaCache) get(ctx context.Context, bbox geo.BoundingBox, fetch func(context.Context) (*osm.OSM, error)) (*osm.OSM, error) {
	key := bbox.String()
	hooks := getMonitoringHooks()

	if o, ok := a.lru.Get(key); ok {
		hooks.cache(a.cacheType, true, a.lru.Len())
		tracing.SetAttributes(ctx, tracing.CacheAttributes(a.cacheType, true, key)...)
		return o, nil
	}
	hooks.cache(a.cacheType, false, a.lru.Len())
	tracing.SetAttributes(ctx, tracing.CacheAttributes(a.cacheType, false, key)...)

	v, err, _ := a.group.Do(key, func() (any, error) {
		o, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		a.lru.Add(key, o)
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*osm.OSM), nil
}

// Purge drops every cached area.
func (a *areaCache) Purge() { a.lru.Purge() }

func decodeOSM(data []byte) (*osm.OSM, error) {
	o := &osm.OSM{}
	if err := xml.Unmarshal(data, o); err != nil {
		return nil, core.NewError(core.ErrParseError, fmt.Sprintf("decoding osm xml: %v", err))
	}
	return o, nil
}

// Map fetches every entity in bbox, with the nodes of returned ways.
func (c *Client) Map(ctx context.Context, bbox geo.BoundingBox) (*osm.OSM, error) {
	ctx, span := tracing.StartSpan(ctx, "osmapi.map")
	defer span.End()

	o, err := c.maps.get(ctx, bbox, func(ctx context.Context) (*osm.OSM, error) {
		data, err := c.do(ctx, request{
			service:   tracing.ServiceOSMAPI,
			operation: "map",
			method:    http.MethodGet,
			url:       c.baseURL + "/api/0.6/map?bbox=" + bbox.String(),
			retry:     core.DefaultRetryOptions,
		})
		if err != nil {
			return nil, err
		}
		return decodeOSM(data)
	})
	if err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}
	c.logger.Debug("map fetched", "bbox", bbox.String(), "nodes", len(o.Nodes), "ways", len(o.Ways), "relations", len(o.Relations))
	return o, nil
}

// InvalidateMaps drops cached areas, so the next read sees fresh versions.
func (c *Client) InvalidateMaps() { c.maps.Purge() }

// Overpass reads areas from an Overpass interpreter. It cannot write.
type Overpass struct {
	transport
	url  string
	maps *areaCache
}

// NewOverpass creates an Overpass reader for endpoint.
func NewOverpass(endpoint string, httpClient *http.Client, logger *slog.Logger) *Overpass {
	if endpoint == "" {
		endpoint = DefaultOverpassURL
	}
	if httpClient == nil {
		httpClient = core.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Overpass{
		transport: transport{
			http:    httpClient,
			limiter: newLimiter(1, 1),
			logger:  logger.With("component", "overpass"),
		},
		url:  endpoint,
		maps: newAreaCache(tracing.CacheTypeMap),
	}
}

// Map runs a bbox query that returns referentially complete data with metadata.
func (o *Overpass) Map(ctx context.Context, bbox geo.BoundingBox) (*osm.OSM, error) {
	ctx, span := tracing.StartSpan(ctx, "overpass.map")
	defer span.End()

	query := core.NewOverpassBuilder().
		WithBoundingBox(bbox).
		WithAll().
		RecurseDown().
		WithMeta().
		Build()

	res, err := o.maps.get(ctx, bbox, func(ctx context.Context) (*osm.OSM, error) {
		data, err := o.do(ctx, request{
			service:     tracing.ServiceOverpass,
			operation:   "map",
			method:      http.MethodPost,
			url:         o.url,
			body:        []byte(url.Values{"data": {query}}.Encode()),
			contentType: "application/x-www-form-urlencoded",
			retry:       core.DefaultRetryOptions,
		})
		if err != nil {
			if mcpErr, ok := core.AsMCPError(err); ok {
				mcpErr.WithQuery(query)
			}
			return nil, err
		}
		return decodeOSM(data)
	})
	if err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}
	return res, nil
}
