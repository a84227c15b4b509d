// Package geojson parses the city's line-oriented GeoJSON address export
// into typed rows.
//
// The export is one Feature per line inside a FeatureCollection wrapper, and
// lines routinely carry a trailing comma (or a dangling comma before a closing
// bracket). The parser tolerates exactly that formatting quirk; anything else
// that fails to decode is skipped per record, never fatal.
package geojson

import "errors"

// ErrNotFeature marks a line that is not a Feature record (collection
// header/footer lines). Callers should ignore these silently.
var ErrNotFeature = errors.New("geojson: not a feature line")

// ErrBadEncoding marks a feature line that does not decode even after
// lenient comma stripping.
var ErrBadEncoding = errors.New("geojson: malformed feature")

// ErrNoEntityKey marks a feature whose ADDRESS_POINT_ID is missing or not
// numeric. Such records are data-quality skips, not errors.
var ErrNoEntityKey = errors.New("geojson: missing address point id")

// Row is one parsed address record. Nil pointer fields are "unset": the
// source value was absent, empty, or the "None" sentinel.
type Row struct {
	AddressPointID   int64    `json:"address_point_id"`
	AddressFull      *string  `json:"address_full"`
	AddressNumber    *string  `json:"address_number"`
	LoNum            *int64   `json:"lo_num"`
	LoNumSuf         *string  `json:"lo_num_suf"`
	HiNum            *int64   `json:"hi_num"`
	HiNumSuf         *string  `json:"hi_num_suf"`
	LinearNameFull   *string  `json:"linear_name_full"`
	LinearName       *string  `json:"linear_name"`
	LinearNameType   *string  `json:"linear_name_type"`
	LinearNameDir    *string  `json:"linear_name_dir"`
	MunicipalityName *string  `json:"municipality_name"`
	WardName         *string  `json:"ward_name"`
	Longitude        *float64 `json:"longitude"`
	Latitude         *float64 `json:"latitude"`
	// Extra is the JSON-encoded overflow bag: every property outside the
	// tracked set, null-filtered, keys sorted. Nil when empty. A bag-only
	// change splits the stored version but is excluded from diff output.
	Extra *string `json:"extra,omitempty"`
}

// TrackedProperties is the fixed set of feature properties stored as real
// columns and compared for change detection. Everything else lands in Extra.
var TrackedProperties = []string{
	"ADDRESS_POINT_ID",
	"ADDRESS_FULL",
	"ADDRESS_NUMBER",
	"LO_NUM",
	"LO_NUM_SUF",
	"HI_NUM",
	"HI_NUM_SUF",
	"LINEAR_NAME_FULL",
	"LINEAR_NAME",
	"LINEAR_NAME_TYPE",
	"LINEAR_NAME_DIR",
	"MUNICIPALITY_NAME",
	"WARD_NAME",
}
