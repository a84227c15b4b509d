package conflate

import "strings"

// Upstream street types mapped to the abbreviated forms OSM mappers use.
var streetSuffixes = map[string]string{
	"STREET": "ST", "ROAD": "RD", "AVENUE": "AVE", "BOULEVARD": "BLVD",
	"DRIVE": "DR", "LANE": "LN", "COURT": "CT", "PLACE": "PL",
	"TERRACE": "TER", "CRESCENT": "CRES", "SQUARE": "SQ", "GATE": "GTE",
	"CIRCLE": "CIR", "WAY": "WAY", "TRAIL": "TRL", "PARKWAY": "PKWY",
	"HIGHWAY": "HWY", "EXPRESSWAY": "EXPY",
}

var directions = map[string]string{
	"NORTH": "N", "SOUTH": "S", "EAST": "E", "WEST": "W",
}

// NormalizeStreet upper-cases, strips periods, and abbreviates street types
// and directionals so "Yonge Street" and "YONGE ST" compare equal.
func NormalizeStreet(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Fields(strings.ReplaceAll(strings.ToUpper(name), ".", ""))
	for i, p := range parts {
		if s, ok := streetSuffixes[p]; ok {
			parts[i] = s
		} else if d, ok := directions[p]; ok {
			parts[i] = d
		}
	}
	return strings.Join(parts, " ")
}
