package diffengine

import "github.com/quaylane/addrtrack/tracker/internal/geojson"

// Changes applies the field-level equivalence rules to two rows of the same
// address and returns the surviving differences. Exposed for the verifier,
// which checks stored rows against re-parsed source rows with exactly the
// rules the diff engine uses.
func Changes(old, new *geojson.Row) []FieldChange {
	return fieldChanges(old, new)
}
