// Package conflate compares the city's active addresses against OSM data
// and buckets every address as matched, missing, conflicting, or needing
// review. Missing addresses are import candidates.
package conflate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/quaylane/addrtrack/tracker"
)

// Conflation buckets.
const (
	Match    = "MATCH"    // same number and street within the match radius
	Review   = "REVIEW"   // same number, street close but not equal
	Conflict = "CONFLICT" // an OSM address sits nearly on top with different data
	Missing  = "MISSING"  // nothing nearby; candidate for import
)

// Config configures the conflator.
type Config struct {
	// MatchRadiusM is the search radius for address matches. Default: 30.
	MatchRadiusM float64 `yaml:"match_radius_m"`
	// CloseRadiusM marks a colocated-but-different OSM address as a
	// conflict rather than a missing address. Default: 10.
	CloseRadiusM float64 `yaml:"close_radius_m"`
	// ReviewDistance is the maximum Levenshtein distance between
	// normalized street names for a same-number pair to land in REVIEW
	// instead of falling through. Default: 2.
	ReviewDistance int `yaml:"review_distance"`
	// CellSizeDeg is the spatial index cell size. Default: 0.002 (~220m).
	CellSizeDeg float64 `yaml:"cell_size_deg"`

	OverpassURL string `yaml:"overpass_url"`
	BBox        BBox   `yaml:"bbox"`
	// CacheFile caches the Overpass response. Default: data/osm_current.json.
	CacheFile string `yaml:"cache_file"`
	// CandidatesFile receives the missing-address list. Default:
	// data/candidates.json.
	CandidatesFile string `yaml:"candidates_file"`
}

func (c *Config) defaults() {
	if c.MatchRadiusM <= 0 {
		c.MatchRadiusM = 30
	}
	if c.CloseRadiusM <= 0 {
		c.CloseRadiusM = 10
	}
	if c.ReviewDistance <= 0 {
		c.ReviewDistance = 2
	}
	if c.CellSizeDeg <= 0 {
		c.CellSizeDeg = 0.002
	}
	if c.CacheFile == "" {
		c.CacheFile = filepath.Join("data", "osm_current.json")
	}
	if c.CandidatesFile == "" {
		c.CandidatesFile = filepath.Join("data", "candidates.json")
	}
}

// Result is the outcome of one conflation run.
type Result struct {
	Match    int `json:"match"`
	Review   int `json:"review"`
	Conflict int `json:"conflict"`
	Missing  int `json:"missing"`
	// Skipped counts city addresses without coordinates.
	Skipped int `json:"skipped"`
	// Indexed counts OSM elements that carried a house number and a
	// position.
	Indexed int `json:"indexed"`

	Candidates []*tracker.Version `json:"-"`
}

// Conflator classifies city addresses against an OSM address index.
type Conflator struct {
	config Config
	logger *slog.Logger
}

// New creates a Conflator. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Conflator {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Conflator{config: cfg, logger: logger}
}

// Config returns the effective configuration after defaulting.
func (c *Conflator) Config() Config { return c.config }

// Run classifies every city address against the OSM elements.
func (c *Conflator) Run(addresses []*tracker.Version, elements []*Element) *Result {
	idx := newGridIndex(c.config.CellSizeDeg)
	res := &Result{}
	for _, el := range elements {
		number, ok := el.Tags["addr:housenumber"]
		if !ok {
			continue
		}
		lat, lon, ok := el.Position()
		if !ok {
			continue
		}
		idx.add(&osmAddr{
			lat:    lat,
			lon:    lon,
			number: strings.ToUpper(number),
			street: NormalizeStreet(el.Tags["addr:street"]),
		})
		res.Indexed++
	}
	c.logger.Info("indexed osm addresses", "count", res.Indexed)

	for i, addr := range addresses {
		if i > 0 && i%10000 == 0 {
			c.logger.Info("conflating", "processed", i, "total", len(addresses))
		}
		switch c.classify(addr, idx) {
		case Match:
			res.Match++
		case Review:
			res.Review++
		case Conflict:
			res.Conflict++
		case Missing:
			res.Missing++
			res.Candidates = append(res.Candidates, addr)
		default:
			res.Skipped++
		}
	}

	c.logger.Info("conflation complete",
		"match", res.Match, "review", res.Review,
		"conflict", res.Conflict, "missing", res.Missing, "skipped", res.Skipped)
	return res
}

// classify buckets one city address. An empty string means the address has
// no coordinates and cannot be placed.
func (c *Conflator) classify(addr *tracker.Version, idx *gridIndex) string {
	if addr.Latitude == nil || addr.Longitude == nil {
		return ""
	}
	lat, lon := *addr.Latitude, *addr.Longitude
	number := cityNumber(addr)
	street := NormalizeStreet(cityStreet(addr))

	review := false
	hasCloseNeighbor := false
	for _, cand := range idx.query(lat, lon) {
		dist := haversine(lat, lon, cand.lat, cand.lon)
		if dist < c.config.CloseRadiusM {
			hasCloseNeighbor = true
		}
		if dist > c.config.MatchRadiusM || cand.number != number {
			continue
		}
		if cand.street == street {
			return Match
		}
		if fuzzy.LevenshteinDistance(cand.street, street) <= c.config.ReviewDistance {
			review = true
		}
	}
	if review {
		return Review
	}
	if hasCloseNeighbor {
		return Conflict
	}
	return Missing
}

// cityNumber renders the address number the way OSM house numbers are
// written: the full civic number string when present, else the low range
// number.
func cityNumber(v *tracker.Version) string {
	if v.AddressNumber != nil && *v.AddressNumber != "" {
		return strings.ToUpper(*v.AddressNumber)
	}
	if v.LoNum != nil {
		return fmt.Sprintf("%d", *v.LoNum)
	}
	return ""
}

// cityStreet prefers the full street name, falling back to name + type.
func cityStreet(v *tracker.Version) string {
	if v.LinearNameFull != nil && *v.LinearNameFull != "" {
		return *v.LinearNameFull
	}
	var parts []string
	if v.LinearName != nil {
		parts = append(parts, *v.LinearName)
	}
	if v.LinearNameType != nil {
		parts = append(parts, *v.LinearNameType)
	}
	return strings.Join(parts, " ")
}

// WriteCandidates saves the missing-address list as JSON for the import
// tooling.
func (c *Conflator) WriteCandidates(res *Result) error {
	if err := os.MkdirAll(filepath.Dir(c.config.CandidatesFile), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	candidates := res.Candidates
	if candidates == nil {
		candidates = []*tracker.Version{}
	}
	raw, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}
	if err := os.WriteFile(c.config.CandidatesFile, raw, 0o644); err != nil {
		return fmt.Errorf("write candidates: %w", err)
	}
	c.logger.Info("candidates written", "path", c.config.CandidatesFile, "count", len(candidates))
	return nil
}
