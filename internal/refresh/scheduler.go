package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"hemicycle.org/internal/archive"
	"hemicycle.org/internal/dataset"
	"hemicycle.org/internal/ingest"
	"hemicycle.org/internal/obs"
	"hemicycle.org/internal/stream"
)

// DefaultInterval matches the publication rhythm of the upstream open-data portal.
const DefaultInterval = 48 * time.Hour

var (
	// ErrAlreadyRunning is returned when a refresh is requested while one is in flight.
	ErrAlreadyRunning = errors.New("refresh already running")
	// ErrEmptyArchive is returned when an archive yields no entity at all.
	ErrEmptyArchive = errors.New("archive produced no records")
)

// Source is one archive consumed on every refresh.
type Source struct {
	Name string
	URL  string
}

// Fetcher downloads an archive.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*archive.Archive, error)
}

// Publisher receives refresh lifecycle events.
type Publisher interface {
	Publish(evt stream.Event)
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State       dataset.State `json:"state"`
	Running     bool          `json:"running"`
	Generation  string        `json:"generation,omitempty"`
	LastAttempt time.Time     `json:"last_attempt,omitzero"`
	LastSuccess time.Time     `json:"last_success,omitzero"`
	LastError   string        `json:"last_error,omitempty"`
	Attempts    int           `json:"attempts"`
	Failures    int           `json:"failures"`
}

// Scheduler rebuilds the dataset at start, on a fixed interval, and on demand.
// At most one refresh runs at a time; extra requests are dropped, not queued.
type Scheduler struct {
	store     *dataset.Store
	fetcher   Fetcher
	sources   []Source
	interval  time.Duration
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	running atomic.Bool
	trigger chan struct{}

	mu     sync.Mutex
	status Status
}

// Option configures Scheduler.
type Option func(*Scheduler)

// WithInterval overrides the refresh period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithPublisher sends lifecycle events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Scheduler.
func New(store *dataset.Store, fetcher Fetcher, sources []Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		fetcher:  fetcher,
		sources:  sources,
		interval: DefaultInterval,
		logger:   obs.Component("refresh"),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run refreshes once immediately, then on every tick or trigger until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.trigger:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	// Failures are logged and recorded by Refresh; the previous generation stays.
	_ = s.Refresh(ctx)
}

// Trigger asks the Run loop for a refresh without waiting for it. It returns
// false when a refresh is already running or pending.
func (s *Scheduler) Trigger() bool {
	if s.running.Load() {
		return false
	}
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Running reports whether a refresh is in flight.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Status returns a copy of the current scheduler status.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	st.State = s.store.State()
	st.Running = s.running.Load()
	if d := s.store.Current(); d != nil {
		st.Generation = d.ID()
	}
	return st
}

// Refresh builds a new generation from all sources and publishes it. On any
// archive-level failure the published generation is left untouched.
func (s *Scheduler) Refresh(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)
	done := s.store.BeginLoad()
	defer done()

	start := s.now()
	s.mu.Lock()
	s.status.Attempts++
	s.status.LastAttempt = start
	s.mu.Unlock()
	s.emit(stream.Event{Type: stream.EventRefreshStarted})
	s.logger.Info("refresh started", "sources", len(s.sources))

	d, err := s.build(ctx)
	elapsed := s.now().Sub(start)
	if err != nil {
		obs.ObserveRefresh("failure", elapsed)
		s.mu.Lock()
		s.status.Failures++
		s.status.LastError = err.Error()
		s.mu.Unlock()
		s.logger.Error("refresh failed, keeping previous generation",
			"error", err,
			"duration_ms", elapsed.Milliseconds(),
		)
		s.emit(stream.Event{Type: stream.EventRefreshFailed, Error: err.Error()})
		return err
	}

	prev := s.store.Publish(d)
	obs.ObserveRefresh("success", elapsed)
	s.mu.Lock()
	s.status.LastSuccess = d.BuiltAt()
	s.status.LastError = ""
	s.mu.Unlock()

	attrs := []any{"generation", d.ID(), "duration_ms", elapsed.Milliseconds()}
	for k, v := range d.Stats().Map() {
		attrs = append(attrs, k, v)
	}
	if prev != nil {
		attrs = append(attrs, "replaced", prev.ID())
	}
	s.logger.Info("generation published", attrs...)
	s.emit(stream.Event{Type: stream.EventPublished, Generation: d.ID(), Counts: d.Stats().Map()})
	return nil
}

// build fetches all sources concurrently into one builder.
func (s *Scheduler) build(ctx context.Context) (*dataset.Dataset, error) {
	b := dataset.NewBuilder()
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range s.sources {
		g.Go(func() error {
			return s.ingest(gctx, src, b)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return b.Build(s.now()), nil
}

func (s *Scheduler) ingest(ctx context.Context, src Source, b *dataset.Builder) error {
	a, err := s.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return fmt.Errorf("%s archive: %w", src.Name, err)
	}
	defer a.Close()

	log := s.logger.With("source", src.Name)
	var kept int
	for e, err := range a.Entries() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if errors.Is(err, archive.ErrEntryTooLarge) {
				log.Warn("entry skipped", "entry", e.Name, "error", err)
				b.NoteParseError()
				continue
			}
			return fmt.Errorf("%s archive: %w", src.Name, err)
		}
		rec, err := ingest.Decode(e.Name, e.Data)
		if err != nil {
			log.Warn("entry skipped", "entry", e.Name, "error", err)
			b.NoteParseError()
			continue
		}
		switch rec.Kind {
		case ingest.KindMember:
			b.AddMember(*rec.Member)
		case ingest.KindBody:
			b.AddBody(*rec.Body)
		case ingest.KindRecusal:
			b.AddRecusal(*rec.Recusal)
		case ingest.KindBallot:
			b.AddBallot(*rec.Ballot)
		default:
			log.Info("record discarded", "entry", e.Name)
			b.NoteSkipped()
			continue
		}
		kept++
	}
	if kept == 0 {
		return fmt.Errorf("%s archive: %w", src.Name, ErrEmptyArchive)
	}
	log.Info("archive ingested", "url", a.URL(), "records", kept)
	return nil
}

func (s *Scheduler) emit(evt stream.Event) {
	if s.publisher == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.now().UTC()
	}
	s.publisher.Publish(evt)
}
