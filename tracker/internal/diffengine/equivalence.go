package diffengine

import (
	"math"
	"strconv"

	"github.com/quaylane/addrtrack/tracker/internal/geojson"
)

// coordTolerance is the slack allowed between two coordinate values before
// they count as different. Coordinates are already rounded to five decimal
// places on parse; the tolerance only absorbs float representation noise.
const coordTolerance = 1e-6

// compareFields are the non-coordinate tracked fields, in report order.
// The entity key and the overflow bag are deliberately absent: the key is
// identity, and the bag is not tracked.
var compareFields = []struct {
	name string
	get  func(*geojson.Row) any
}{
	{"address_full", func(r *geojson.Row) any { return strVal(r.AddressFull) }},
	{"address_number", func(r *geojson.Row) any { return strVal(r.AddressNumber) }},
	{"lo_num", func(r *geojson.Row) any { return intVal(r.LoNum) }},
	{"lo_num_suf", func(r *geojson.Row) any { return strVal(r.LoNumSuf) }},
	{"hi_num", func(r *geojson.Row) any { return intVal(r.HiNum) }},
	{"hi_num_suf", func(r *geojson.Row) any { return strVal(r.HiNumSuf) }},
	{"linear_name_full", func(r *geojson.Row) any { return strVal(r.LinearNameFull) }},
	{"linear_name", func(r *geojson.Row) any { return strVal(r.LinearName) }},
	{"linear_name_type", func(r *geojson.Row) any { return strVal(r.LinearNameType) }},
	{"linear_name_dir", func(r *geojson.Row) any { return strVal(r.LinearNameDir) }},
	{"municipality_name", func(r *geojson.Row) any { return strVal(r.MunicipalityName) }},
	{"ward_name", func(r *geojson.Row) any { return strVal(r.WardName) }},
}

func strVal(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func intVal(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// valuesDiffer reports whether two field values genuinely differ.
//
// Empirically discovered workarounds for inconsistent upstream exports, kept
// as one named predicate so they can be revisited together:
//   - unset equals unset;
//   - numeric zero equals unset (some exports encode "no value" as 0, others
//     as blank);
//   - otherwise values compare by canonical string form, so numeric/text
//     representational differences that round-trip to the same text are equal.
func valuesDiffer(a, b any) bool {
	if a == nil && b == nil {
		return false
	}
	if (isZero(a) && b == nil) || (a == nil && isZero(b)) {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	return canonical(a) != canonical(b)
}

func isZero(v any) bool {
	switch x := v.(type) {
	case int64:
		return x == 0
	case float64:
		return x == 0
	}
	return false
}

func canonical(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

// coordsDiffer compares one coordinate component with a floating tolerance.
// Unset compares equal to unset; an unset/set pair is a difference.
func coordsDiffer(a, b *float64) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	return math.Abs(*a-*b) > coordTolerance
}

// outsideWGS84 reports whether a coordinate value lies outside valid
// geographic bounds, the telltale of a projected/unit-system value rather
// than a genuine relocation. Unset values are in bounds.
func outsideWGS84(v *float64) bool {
	return v != nil && math.Abs(*v) > 180
}

// fieldChanges computes the tracked-field differences between two versions
// of the same address under the equivalence rules. When any of the four
// coordinate values is outside WGS84 bounds the coordinate comparison is
// skipped entirely for this entity; such anomalies must never be reported
// as address changes.
func fieldChanges(old, new *geojson.Row) []FieldChange {
	var changes []FieldChange
	for _, f := range compareFields {
		ov, nv := f.get(old), f.get(new)
		if valuesDiffer(ov, nv) {
			changes = append(changes, FieldChange{Field: f.name, Old: ov, New: nv})
		}
	}

	if outsideWGS84(old.Longitude) || outsideWGS84(old.Latitude) ||
		outsideWGS84(new.Longitude) || outsideWGS84(new.Latitude) {
		return changes
	}
	if coordsDiffer(old.Longitude, new.Longitude) {
		changes = append(changes, FieldChange{Field: "longitude", Old: fltVal(old.Longitude), New: fltVal(new.Longitude)})
	}
	if coordsDiffer(old.Latitude, new.Latitude) {
		changes = append(changes, FieldChange{Field: "latitude", Old: fltVal(old.Latitude), New: fltVal(new.Latitude)})
	}
	return changes
}

func fltVal(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
