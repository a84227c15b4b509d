package report

import (
	"fmt"

	"github.com/quaylane/addrtrack/tracker"
)

// Template-friendly projections. Pointer fields are flattened here so the
// templates stay free of nil checks.

type snapView struct {
	ID         int64
	Filename   string
	Downloaded string
	RowCount   int64
}

type rowView struct {
	ID           int64
	Address      string
	Street       string
	Municipality string
	Ward         string
	Coords       string
}

type changeView struct {
	Field string
	Old   string
	New   string
}

type modifiedView struct {
	ID      int64
	Address string
	Coords  string
	Changes []changeView
}

type reportView struct {
	Generated     string
	OldSnapshot   snapView
	NewSnapshot   snapView
	Stats         *Stats
	Added         []rowView
	Removed       []rowView
	Modified      []modifiedView
	AddedCount    int
	RemovedCount  int
	ModifiedCount int
}

func snapshotView(s *tracker.Snapshot) snapView {
	return snapView{ID: s.ID, Filename: s.Filename, Downloaded: s.Downloaded, RowCount: s.RowCount}
}

func rowViews(vs []*tracker.Version) []rowView {
	out := make([]rowView, len(vs))
	for i, v := range vs {
		out[i] = rowView{
			ID:           v.AddressPointID,
			Address:      strOr(v.AddressFull, ""),
			Street:       strOr(v.LinearNameFull, ""),
			Municipality: strOr(v.MunicipalityName, ""),
			Ward:         strOr(v.WardName, ""),
			Coords:       coords(v.Longitude, v.Latitude),
		}
	}
	return out
}

func modifiedViews(ms []*tracker.Modified) []modifiedView {
	out := make([]modifiedView, len(ms))
	for i, m := range ms {
		changes := make([]changeView, len(m.Changes))
		for j, ch := range m.Changes {
			changes[j] = changeView{Field: ch.Field, Old: value(ch.Old), New: value(ch.New)}
		}
		out[i] = modifiedView{
			ID:      m.AddressPointID,
			Address: m.AddressFull,
			Coords:  coords(m.Longitude, m.Latitude),
			Changes: changes,
		}
	}
	return out
}

func strOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func coords(lon, lat *float64) string {
	if lon == nil || lat == nil {
		return ""
	}
	return fmt.Sprintf("%.5f, %.5f", *lon, *lat)
}

// value renders a change endpoint; unset displays as a dash.
func value(v any) string {
	if v == nil {
		return "–"
	}
	return fmt.Sprint(v)
}
