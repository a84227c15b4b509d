package geojson

import (
	"bufio"
	"errors"
	"io"
	"os"
)

// Scanner streams rows out of a line-oriented export. It is cheap to create
// and restartable per run: open a new Scanner to re-read the input.
type Scanner struct {
	r       *bufio.Reader
	done    bool
	skipped int
}

// NewScanner wraps a reader of the line-oriented export. Lines are read
// unbounded; some multi-part geometries run far past any fixed token limit.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next parseable row, or io.EOF when the input is
// exhausted. Wrapper lines are ignored; malformed records and records
// without an entity key are counted as skipped and passed over.
func (s *Scanner) Next() (*Row, error) {
	for !s.done {
		line, err := s.r.ReadBytes('\n')
		if err == io.EOF {
			s.done = true
		} else if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			continue
		}
		row, perr := ParseLine(line)
		switch {
		case perr == nil:
			return row, nil
		case errors.Is(perr, ErrNotFeature):
			continue
		default:
			s.skipped++
		}
	}
	return nil, io.EOF
}

// Skipped reports how many feature records were dropped so far for bad
// encoding or a missing entity key.
func (s *Scanner) Skipped() int { return s.skipped }

// ScanFile reads an entire export file, returning all rows and the skipped
// record count.
func ScanFile(path string) ([]*Row, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	sc := NewScanner(f)
	var rows []*Row
	for {
		row, err := sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, sc.Skipped(), err
		}
		rows = append(rows, row)
	}
	return rows, sc.Skipped(), nil
}
