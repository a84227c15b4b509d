package report

import (
	"sort"

	"github.com/quaylane/addrtrack/tracker"
)

// StatEntry is one (name, count) pair, ordered most-common-first.
type StatEntry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Stats summarises a diff for the report header tables.
type Stats struct {
	MuniAdded    []StatEntry `json:"muni_added"`
	MuniRemoved  []StatEntry `json:"muni_removed"`
	WardAdded    []StatEntry `json:"ward_added"`
	WardRemoved  []StatEntry `json:"ward_removed"`
	FieldChanges []StatEntry `json:"field_changes"`
}

// ComputeStats counts added/removed rows per municipality and per ward,
// and counts how often each field appears in the modified set.
func ComputeStats(d *tracker.Diff) *Stats {
	muniAdded := map[string]int{}
	muniRemoved := map[string]int{}
	wardAdded := map[string]int{}
	wardRemoved := map[string]int{}
	fields := map[string]int{}

	for _, v := range d.Added {
		muniAdded[orUnknown(v.MunicipalityName)]++
		wardAdded[orUnknown(v.WardName)]++
	}
	for _, v := range d.Removed {
		muniRemoved[orUnknown(v.MunicipalityName)]++
		wardRemoved[orUnknown(v.WardName)]++
	}
	for _, m := range d.Modified {
		for _, ch := range m.Changes {
			fields[ch.Field]++
		}
	}

	return &Stats{
		MuniAdded:    mostCommon(muniAdded),
		MuniRemoved:  mostCommon(muniRemoved),
		WardAdded:    mostCommon(wardAdded),
		WardRemoved:  mostCommon(wardRemoved),
		FieldChanges: mostCommon(fields),
	}
}

func orUnknown(s *string) string {
	if s == nil || *s == "" {
		return "Unknown"
	}
	return *s
}

// mostCommon orders by descending count, name as tie-break so output is
// deterministic.
func mostCommon(m map[string]int) []StatEntry {
	out := make([]StatEntry, 0, len(m))
	for name, n := range m {
		out = append(out, StatEntry{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
