package geojson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// CoordinatePrecision is the number of decimal places coordinates are
// rounded to on parse. Five places (~1 m) absorbs jitter between exports
// of the same point.
const CoordinatePrecision = 5

var (
	featureMarker   = []byte(`"type": "Feature"`)
	danglingBracket = regexp.MustCompile(`,\s*]`)
	danglingBrace   = regexp.MustCompile(`,\s*}`)
)

type feature struct {
	Properties map[string]any  `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

type geometry struct {
	Coordinates json.RawMessage `json:"coordinates"`
}

// ParseLine parses one line of the export into a Row.
//
// Returns ErrNotFeature for wrapper lines, ErrBadEncoding when the line does
// not decode after lenient comma stripping, and ErrNoEntityKey when the
// record has no usable ADDRESS_POINT_ID.
func ParseLine(line []byte) (*Row, error) {
	line = bytes.TrimSpace(line)
	line = bytes.TrimSuffix(line, []byte(","))
	if !bytes.Contains(line, featureMarker) {
		return nil, ErrNotFeature
	}
	// The upstream export leaves dangling commas before closing brackets.
	// Strip only that; this is not a general JSON relaxation.
	line = danglingBracket.ReplaceAll(line, []byte("]"))
	line = danglingBrace.ReplaceAll(line, []byte("}"))

	var feat feature
	if err := json.Unmarshal(line, &feat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}

	id := parseInt(feat.Properties["ADDRESS_POINT_ID"])
	if id == nil {
		return nil, ErrNoEntityKey
	}

	row := &Row{
		AddressPointID:   *id,
		AddressFull:      cleanString(feat.Properties["ADDRESS_FULL"]),
		AddressNumber:    cleanString(feat.Properties["ADDRESS_NUMBER"]),
		LoNum:            parseInt(feat.Properties["LO_NUM"]),
		LoNumSuf:         cleanString(feat.Properties["LO_NUM_SUF"]),
		HiNum:            parseInt(feat.Properties["HI_NUM"]),
		HiNumSuf:         cleanString(feat.Properties["HI_NUM_SUF"]),
		LinearNameFull:   cleanString(feat.Properties["LINEAR_NAME_FULL"]),
		LinearName:       cleanString(feat.Properties["LINEAR_NAME"]),
		LinearNameType:   cleanString(feat.Properties["LINEAR_NAME_TYPE"]),
		LinearNameDir:    cleanString(feat.Properties["LINEAR_NAME_DIR"]),
		MunicipalityName: cleanString(feat.Properties["MUNICIPALITY_NAME"]),
		WardName:         cleanString(feat.Properties["WARD_NAME"]),
	}
	row.Longitude, row.Latitude = parseCoordinates(feat.Geometry)
	row.Extra = overflowBag(feat.Properties)
	return row, nil
}

// parseCoordinates extracts the coordinate pair from a geometry, taking the
// first point of a multi-part geometry. Malformed or short coordinate arrays
// yield unset coordinates, not an error.
func parseCoordinates(raw json.RawMessage) (lon, lat *float64) {
	if len(raw) == 0 {
		return nil, nil
	}
	var geom geometry
	if err := json.Unmarshal(raw, &geom); err != nil {
		return nil, nil
	}
	var coords []any
	if err := json.Unmarshal(geom.Coordinates, &coords); err != nil {
		return nil, nil
	}
	if len(coords) > 0 {
		if nested, ok := coords[0].([]any); ok {
			coords = nested
		}
	}
	if len(coords) > 0 {
		lon = roundCoord(parseFloat(coords[0]))
	}
	if len(coords) > 1 {
		lat = roundCoord(parseFloat(coords[1]))
	}
	return lon, lat
}

func roundCoord(v *float64) *float64 {
	if v == nil {
		return nil
	}
	scale := math.Pow10(CoordinatePrecision)
	r := math.Round(*v*scale) / scale
	return &r
}

// overflowBag collects untracked, non-null properties into a JSON object
// with sorted keys. Returns nil when nothing is left.
func overflowBag(props map[string]any) *string {
	tracked := make(map[string]bool, len(TrackedProperties)+1)
	for _, p := range TrackedProperties {
		tracked[p] = true
	}
	tracked["_id"] = true

	extra := make(map[string]any)
	for k, v := range props {
		if tracked[k] || v == nil {
			continue
		}
		extra[k] = v
	}
	if len(extra) == 0 {
		return nil
	}
	// encoding/json writes map keys in sorted order, which keeps the bag
	// byte-stable across exports.
	b, err := json.Marshal(extra)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

// parseInt coerces a property value to an integer. Floating-point values and
// strings truncate; empty, "None" and non-numeric values are unset.
func parseInt(v any) *int64 {
	f := parseFloat(v)
	if f == nil {
		return nil
	}
	n := int64(*f)
	return &n
}

func parseFloat(v any) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case string:
		if x == "" || x == "None" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// cleanString normalizes a property value to a string, treating "", "None"
// and null as unset.
func cleanString(v any) *string {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		if x == "" || x == "None" {
			return nil
		}
		return &x
	case float64:
		// Numeric values in nominally-text fields keep their canonical form.
		s := strconv.FormatFloat(x, 'f', -1, 64)
		return &s
	default:
		s := fmt.Sprint(x)
		return &s
	}
}
