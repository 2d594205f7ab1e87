package dataset

import (
	"sync/atomic"

	"hemicycle.org/internal/obs"
	"hemicycle.org/internal/parliament"
)

// State of the published dataset.
type State string

const (
	StateEmpty   State = "empty"
	StateLoading State = "loading"
	StateReady   State = "ready"
)

// Store publishes dataset generations. A single writer swaps whole
// generations in; readers load the pointer once per query and never lock.
type Store struct {
	current atomic.Pointer[Dataset]
	loading atomic.Int32
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Current returns the published generation, or nil before the first one.
func (s *Store) Current() *Dataset {
	return s.current.Load()
}

// Snapshot returns the published generation or ErrNotReady.
func (s *Store) Snapshot() (*Dataset, error) {
	d := s.current.Load()
	if d == nil {
		return nil, parliament.ErrNotReady
	}
	return d, nil
}

// BeginLoad marks a generation as being built. The returned func ends it.
func (s *Store) BeginLoad() (done func()) {
	s.loading.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			s.loading.Add(-1)
		}
	}
}

// Publish atomically replaces the current generation and returns the previous one.
func (s *Store) Publish(d *Dataset) *Dataset {
	if d == nil {
		return s.current.Load()
	}
	prev := s.current.Swap(d)
	obs.SetReady(true)
	obs.SetDatasetCounts(d.BuiltAt(), d.Stats().Map())
	return prev
}

// State reports the visible state. A generation being rebuilt while another
// is published still reads as ready.
func (s *Store) State() State {
	switch {
	case s.current.Load() != nil:
		return StateReady
	case s.loading.Load() > 0:
		return StateLoading
	default:
		return StateEmpty
	}
}
