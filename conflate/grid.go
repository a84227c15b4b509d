package conflate

// osmAddr is one indexed OSM address with its tags pre-normalized so the
// hot comparison loop does no string work.
type osmAddr struct {
	lat, lon float64
	number   string // upper-cased addr:housenumber
	street   string // normalized addr:street
}

// gridIndex buckets points into square degree cells so neighbor lookups
// only touch the 9 cells around a query point.
type gridIndex struct {
	cellSize float64
	cells    map[[2]int][]*osmAddr
}

func newGridIndex(cellSize float64) *gridIndex {
	return &gridIndex{cellSize: cellSize, cells: make(map[[2]int][]*osmAddr)}
}

func (g *gridIndex) key(lat, lon float64) [2]int {
	return [2]int{int(lat / g.cellSize), int(lon / g.cellSize)}
}

func (g *gridIndex) add(a *osmAddr) {
	k := g.key(a.lat, a.lon)
	g.cells[k] = append(g.cells[k], a)
}

// query returns all points in the 9 cells around (lat, lon). With the
// default cell size that covers at least a 220m radius, comfortably more
// than the match radius.
func (g *gridIndex) query(lat, lon float64) []*osmAddr {
	ck := g.key(lat, lon)
	var out []*osmAddr
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			out = append(out, g.cells[[2]int{ck[0] + dx, ck[1] + dy}]...)
		}
	}
	return out
}
