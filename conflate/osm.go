package conflate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultOverpassURL is the public Overpass API endpoint.
const DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

// BBox is a bounding box as min lat, min lon, max lat, max lon.
type BBox [4]float64

// TorontoBBox covers the city's address dataset.
var TorontoBBox = BBox{43.5810, -79.6392, 43.8555, -79.1169}

func (b BBox) String() string {
	return fmt.Sprintf("%v,%v,%v,%v", b[0], b[1], b[2], b[3])
}

// Element is one Overpass result. Ways and relations carry their centroid
// in Center; nodes carry Lat/Lon directly.
type Element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat,omitempty"`
	Lon    float64           `json:"lon,omitempty"`
	Center *Center           `json:"center,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// Center is the computed centroid of a way or relation.
type Center struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Position returns the element's point location: the node position, or the
// centroid for ways and relations.
func (e *Element) Position() (lat, lon float64, ok bool) {
	if e.Type == "node" {
		return e.Lat, e.Lon, e.Lat != 0 || e.Lon != 0
	}
	if e.Center != nil {
		return e.Center.Lat, e.Center.Lon, true
	}
	return 0, 0, false
}

// OSMClient fetches addressed elements from Overpass with an on-disk cache.
type OSMClient struct {
	client *http.Client
	url    string
	bbox   BBox
	logger *slog.Logger
}

// NewOSMClient creates a client against the given endpoint; empty values
// fall back to DefaultOverpassURL and TorontoBBox.
func NewOSMClient(endpoint string, bbox BBox, logger *slog.Logger) *OSMClient {
	if endpoint == "" {
		endpoint = DefaultOverpassURL
	}
	if bbox == (BBox{}) {
		bbox = TorontoBBox
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OSMClient{
		client: &http.Client{Timeout: 4 * time.Minute},
		url:    endpoint,
		bbox:   bbox,
		logger: logger,
	}
}

// buildQuery selects nodes, ways, and relations carrying addr:housenumber.
// Count queries use a short server-side timeout; full fetches ask for the
// center of ways and relations.
func (c *OSMClient) buildQuery(count bool) string {
	timeout := 180
	out := "out center;"
	if count {
		timeout = 30
		out = "out count;"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];(", timeout)
	for _, kind := range []string{"node", "way", "relation"} {
		fmt.Fprintf(&b, `%s["addr:housenumber"](%s);`, kind, c.bbox)
	}
	b.WriteString(");")
	b.WriteString(out)
	return b.String()
}

func (c *OSMClient) post(ctx context.Context, query string) ([]*Element, error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overpass: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("overpass: http %d", resp.StatusCode)
	}

	var payload struct {
		Elements []*Element `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("overpass: decode: %w", err)
	}
	return payload.Elements, nil
}

// Count returns the number of addressed objects in the bounding box
// without transferring them.
func (c *OSMClient) Count(ctx context.Context) (int, error) {
	elements, err := c.post(ctx, c.buildQuery(true))
	if err != nil {
		return 0, err
	}
	total := 0
	for _, el := range elements {
		if el.Type != "count" {
			continue
		}
		for _, k := range []string{"nodes", "ways", "relations"} {
			n, _ := strconv.Atoi(el.Tags[k])
			total += n
		}
	}
	return total, nil
}

// Fetch downloads all addressed elements in the bounding box.
func (c *OSMClient) Fetch(ctx context.Context) ([]*Element, error) {
	c.logger.Info("fetching osm addresses", "bbox", c.bbox.String())
	elements, err := c.post(ctx, c.buildQuery(false))
	if err != nil {
		return nil, err
	}
	c.logger.Info("osm fetch complete", "elements", len(elements))
	return elements, nil
}

// FetchCached returns the elements from path when it exists, otherwise
// fetches from Overpass and writes the cache file.
func (c *OSMClient) FetchCached(ctx context.Context, path string) ([]*Element, error) {
	if raw, err := os.ReadFile(path); err == nil {
		var elements []*Element
		if err := json.Unmarshal(raw, &elements); err != nil {
			return nil, fmt.Errorf("cache %s: %w", path, err)
		}
		c.logger.Info("loaded osm cache", "path", path, "elements", len(elements))
		return elements, nil
	}

	elements, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	raw, err := json.Marshal(elements)
	if err != nil {
		return nil, fmt.Errorf("marshal cache: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return nil, fmt.Errorf("write cache: %w", err)
	}
	return elements, nil
}
