package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeAPI struct {
	header    string
	probes    atomic.Int32
	lookups   atomic.Int32
	failProbe atomic.Bool
	slowData  bool
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/resources/deputes/profile/", func(w http.ResponseWriter, r *http.Request) {
		f.probes.Add(1)
		time.Sleep(10 * time.Millisecond)
		if f.failProbe.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"profile": {"header": %s}}`, f.header)
	})
	mux.HandleFunc("GET /api/resources/deputes/data/", func(w http.ResponseWriter, r *http.Request) {
		f.lookups.Add(1)
		if f.slowData {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		q := r.URL.Query()
		if got := q.Get("page_size"); got != "20" {
			t.Errorf("page_size = %q, want 20", got)
		}
		id := q.Get("acteurRef__exact")
		w.Header().Set("Content-Type", "application/json")
		if id != "PA1" {
			fmt.Fprint(w, `{"data": []}`)
			return
		}
		fmt.Fprint(w, `{"data": [{"acteurRef": "PA1", "questions": 12}]}`)
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAPI, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	opts = append([]Option{WithClient(srv.Client())}, opts...)
	return New(Config{BaseURL: srv.URL, Resource: "deputes", Timeout: time.Second}, opts...)
}

func TestPickColumn(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header []string
		want   string
		ok     bool
	}{
		{"first candidate wins", []string{"nom", "uid", "id"}, "id", true},
		{"case insensitive", []string{"nom", "ActeurRef"}, "ActeurRef", true},
		{"fallback to id substring", []string{"nom", "code_ident"}, "code_ident", true},
		{"none", []string{"nom", "prenom"}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := pickColumn(tc.header, DefaultCandidates)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("pickColumn(%v) = %q, %v; want %q, %v", tc.header, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestLookupSharesOneProbe(t *testing.T) {
	api := &fakeAPI{header: `["nom", "acteurRef", "questions"]`}
	c := newTestClient(t, api)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Lookup(context.Background(), "PA1")
			if err != nil {
				errs <- err
				return
			}
			if res.Column != "acteurRef" || len(res.Rows) != 1 {
				errs <- fmt.Errorf("unexpected result %+v", res)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if n := api.probes.Load(); n != 1 {
		t.Fatalf("probes = %d, want 1", n)
	}
	if n := api.lookups.Load(); n != 8 {
		t.Fatalf("lookups = %d, want 8", n)
	}
}

func TestLookupNoRows(t *testing.T) {
	api := &fakeAPI{header: `["acteurRef"]`}
	c := newTestClient(t, api)

	_, err := c.Lookup(context.Background(), "PA404")
	if !errors.Is(err, ErrNoRows) || !errors.Is(err, ErrEnrichmentUnavailable) {
		t.Fatalf("err = %v, want ErrNoRows", err)
	}
	if _, err := c.JoinColumn(context.Background()); err != nil {
		t.Fatalf("join column lost after empty lookup: %v", err)
	}
}

func TestProbeFailureBacksOff(t *testing.T) {
	api := &fakeAPI{header: `["acteurRef"]`}
	api.failProbe.Store(true)

	var mu sync.Mutex
	now := time.Date(2024, 7, 18, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c := newTestClient(t, api, WithClock(clock))

	_, err := c.Lookup(context.Background(), "PA1")
	if !errors.Is(err, ErrEnrichmentUnavailable) {
		t.Fatalf("err = %v, want ErrEnrichmentUnavailable", err)
	}
	var ee *EnrichmentError
	if !errors.As(err, &ee) || ee.Op != "probe" {
		t.Fatalf("err = %#v, want probe EnrichmentError", err)
	}

	api.failProbe.Store(false)
	if _, err := c.Lookup(context.Background(), "PA1"); err == nil {
		t.Fatal("expected cached failure inside back-off window")
	}
	if n := api.probes.Load(); n != 1 {
		t.Fatalf("probes = %d, want 1", n)
	}

	mu.Lock()
	now = now.Add(DefaultBackoff + time.Second)
	mu.Unlock()
	res, err := c.Lookup(context.Background(), "PA1")
	if err != nil {
		t.Fatalf("Lookup after back-off: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(res.Rows))
	}
	if n := api.probes.Load(); n != 2 {
		t.Fatalf("probes = %d, want 2", n)
	}
}

func TestNoJoinColumn(t *testing.T) {
	api := &fakeAPI{header: `["nom", "prenom"]`}
	c := newTestClient(t, api)

	_, err := c.Lookup(context.Background(), "PA1")
	if !errors.Is(err, ErrNoJoinColumn) || !errors.Is(err, ErrEnrichmentUnavailable) {
		t.Fatalf("err = %v, want ErrNoJoinColumn", err)
	}
	if n := api.lookups.Load(); n != 0 {
		t.Fatalf("lookups = %d, want 0", n)
	}
}

func TestLookupTimeout(t *testing.T) {
	api := &fakeAPI{header: `["acteurRef"]`, slowData: true}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, Resource: "deputes", Timeout: 100 * time.Millisecond}, WithClient(srv.Client()))

	start := time.Now()
	_, err := c.Lookup(context.Background(), "PA1")
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrEnrichmentUnavailable) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("lookup took %s, want bounded by timeout", elapsed)
	}
}

func TestNotConfigured(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	if c.Enabled() {
		t.Fatal("client without base URL reports enabled")
	}
	_, err := c.Lookup(context.Background(), "PA1")
	if !errors.Is(err, ErrNotConfigured) || !errors.Is(err, ErrEnrichmentUnavailable) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestRateLimitedClientStillServes(t *testing.T) {
	api := &fakeAPI{header: `["acteurRef"]`}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, Resource: "deputes", Rate: 50, Burst: 1}, WithClient(srv.Client()))

	for range 3 {
		if _, err := c.Lookup(context.Background(), "PA1"); err != nil {
			t.Fatalf("Lookup: %v", err)
		}
	}
}
