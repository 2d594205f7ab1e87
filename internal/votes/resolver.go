package votes

import (
	"slices"
	"sync"

	"hemicycle.org/internal/dataset"
	"hemicycle.org/internal/parliament"
)

// Row is a member's resolved position on one ballot.
type Row struct {
	Number   int                 `json:"number"`
	Date     string              `json:"date"`
	Title    string              `json:"title"`
	Position parliament.Position `json:"position"`
}

// PositionIn scans one group record's buckets in fixed order. When a voter
// sits in several buckets the last one scanned wins.
func PositionIn(g parliament.GroupRecord, memberID string) (parliament.Position, bool) {
	pos, found := parliament.PositionAbsent, false
	for _, p := range parliament.BucketOrder {
		if slices.Contains(g.Bucket(p), memberID) {
			pos, found = p, true
		}
	}
	return pos, found
}

// PositionOn resolves a member's position on a ballot across all group
// records. A member found nowhere is Absent.
func PositionOn(b parliament.Ballot, memberID string) parliament.Position {
	pos := parliament.PositionAbsent
	for _, g := range b.Groups {
		if p, ok := PositionIn(g, memberID); ok {
			pos = p
		}
	}
	return pos
}

// Resolve returns one row per ballot of the generation, in ballot order.
func Resolve(d *dataset.Dataset, memberID string) []Row {
	ballots := d.Ballots()
	rows := make([]Row, 0, len(ballots))
	for _, b := range ballots {
		rows = append(rows, Row{
			Number:   b.Number,
			Date:     b.Date,
			Title:    b.Title,
			Position: PositionOn(b, memberID),
		})
	}
	return rows
}

const defaultCacheSize = 1024

// Resolver memoizes Resolve per member for the generation it last saw. Any
// other generation id flushes the cache.
type Resolver struct {
	mu      sync.Mutex
	gen     string
	rows    map[string][]Row
	maxSize int
}

// NewResolver returns a Resolver caching up to size members (0 = default).
func NewResolver(size int) *Resolver {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Resolver{rows: make(map[string][]Row), maxSize: size}
}

// Resolve is the cached form of the package-level Resolve.
func (r *Resolver) Resolve(d *dataset.Dataset, memberID string) []Row {
	r.mu.Lock()
	if r.gen != d.ID() {
		r.gen = d.ID()
		clear(r.rows)
	}
	if rows, ok := r.rows[memberID]; ok {
		r.mu.Unlock()
		return rows
	}
	r.mu.Unlock()

	rows := Resolve(d, memberID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != d.ID() {
		return rows
	}
	if len(r.rows) >= r.maxSize {
		clear(r.rows)
	}
	r.rows[memberID] = rows
	return rows
}
