// Package query answers point queries against the published dataset generation.
package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hemicycle.org/internal/dataset"
	"hemicycle.org/internal/enrich"
	"hemicycle.org/internal/parliament"
	"hemicycle.org/internal/votes"
)

// DefaultGroupPrefix identifies political-group bodies on untagged mandates.
const DefaultGroupPrefix = "PO"

// ErrInvalidQuery is returned for malformed parameters.
var ErrInvalidQuery = errors.New("invalid query")

// Service is the read surface exposed over HTTP.
type Service interface {
	GetMember(ctx context.Context, q MemberQuery) (parliament.Member, error)
	GetBody(ctx context.Context, id string) (parliament.Body, error)
	ListBodies(ctx context.Context, bodyType string) ([]parliament.Body, error)
	GetBallot(ctx context.Context, number int) (parliament.Ballot, error)
	BallotsForMember(ctx context.Context, memberID string) ([]votes.Row, error)
	RecusalsForMember(ctx context.Context, memberID string) ([]parliament.Recusal, error)
	MembersOfBody(ctx context.Context, bodyID string) (Roster, error)
	Coherence(ctx context.Context, memberID string) (votes.Coherence, error)
	SearchBallots(ctx context.Context, q BallotSearch) ([]BallotSummary, error)
	EnrichMember(ctx context.Context, memberID string) (EnrichedMember, error)
}

// Enricher joins a member against external statistics.
type Enricher interface {
	Lookup(ctx context.Context, memberID string) (enrich.Result, error)
}

// MemberQuery selects a member by id or by name. ID wins when both are set.
type MemberQuery struct {
	ID   string
	Name string
}

// BallotSearch filters ballots by title text and an inclusive date range.
// Zero From or To leaves that side open.
type BallotSearch struct {
	Text string
	From time.Time
	To   time.Time
}

// Roster lists the members holding a mandate in a body.
type Roster struct {
	Body    *parliament.Body    `json:"body,omitempty"`
	BodyID  string              `json:"body_id"`
	Members []parliament.Member `json:"members"`
}

// BallotSummary is a ballot without its per-group voter lists.
type BallotSummary struct {
	Number  int    `json:"number"`
	Date    string `json:"date"`
	Title   string `json:"title"`
	Outcome string `json:"outcome,omitempty"`
}

// Enrichment is the informational result of an external join.
type Enrichment struct {
	Available bool             `json:"available"`
	Resource  string           `json:"resource,omitempty"`
	Column    string           `json:"column,omitempty"`
	Rows      []map[string]any `json:"rows,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// EnrichedMember is a member with the external statistics joined in.
type EnrichedMember struct {
	Member     parliament.Member `json:"member"`
	Enrichment Enrichment        `json:"enrichment"`
}

// Index implements Service over a dataset store. Every call reads one
// snapshot, so a concurrent publish never mixes two generations in a result.
type Index struct {
	store       *dataset.Store
	resolver    *votes.Resolver
	enricher    Enricher
	groupPrefix string
}

// Option configures Index.
type Option func(*Index)

// WithEnricher sets the external statistics source.
func WithEnricher(e Enricher) Option {
	return func(ix *Index) { ix.enricher = e }
}

// WithGroupPrefix overrides DefaultGroupPrefix.
func WithGroupPrefix(prefix string) Option {
	return func(ix *Index) {
		if prefix != "" {
			ix.groupPrefix = prefix
		}
	}
}

// WithResolver shares a resolver cache.
func WithResolver(r *votes.Resolver) Option {
	return func(ix *Index) {
		if r != nil {
			ix.resolver = r
		}
	}
}

// New constructs an Index.
func New(store *dataset.Store, opts ...Option) *Index {
	ix := &Index{
		store:       store,
		resolver:    votes.NewResolver(0),
		groupPrefix: DefaultGroupPrefix,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

var _ Service = (*Index)(nil)

func (ix *Index) GetMember(_ context.Context, q MemberQuery) (parliament.Member, error) {
	d, err := ix.store.Snapshot()
	if err != nil {
		return parliament.Member{}, err
	}
	id, name := strings.TrimSpace(q.ID), strings.TrimSpace(q.Name)
	switch {
	case id != "":
		return member(d, id)
	case name != "":
		matches := d.MembersByName(name)
		switch len(matches) {
		case 0:
			return parliament.Member{}, &parliament.NotFoundError{Kind: "member", ID: name}
		case 1:
			return matches[0], nil
		default:
			return parliament.Member{}, &parliament.AmbiguousQueryError{Query: name, Candidates: matches}
		}
	default:
		return parliament.Member{}, fmt.Errorf("%w: id or name required", ErrInvalidQuery)
	}
}

func (ix *Index) GetBody(_ context.Context, id string) (parliament.Body, error) {
	d, err := ix.store.Snapshot()
	if err != nil {
		return parliament.Body{}, err
	}
	b, ok := d.Body(id)
	if !ok {
		return parliament.Body{}, &parliament.NotFoundError{Kind: "body", ID: id}
	}
	return b, nil
}

// ListBodies returns bodies ordered by uid. A non-empty bodyType keeps only
// bodies with that type tag, compared case-insensitively.
func (ix *Index) ListBodies(_ context.Context, bodyType string) ([]parliament.Body, error) {
	d, err := ix.store.Snapshot()
	if err != nil {
		return nil, err
	}
	bodyType = strings.TrimSpace(bodyType)
	out := []parliament.Body{}
	for _, uid := range d.BodyIDs() {
		b, _ := d.Body(uid)
		if bodyType != "" && !strings.EqualFold(b.Type, bodyType) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// GetBallot returns a ballot with its per-group voter lists.
func (ix *Index) GetBallot(_ context.Context, number int) (parliament.Ballot, error) {
	d, err := ix.store.Snapshot()
	if err != nil {
		return parliament.Ballot{}, err
	}
	b, ok := d.Ballot(number)
	if !ok {
		return parliament.Ballot{}, &parliament.NotFoundError{Kind: "ballot", ID: strconv.Itoa(number)}
	}
	return b, nil
}

// BallotsForMember returns one row per ballot. An id never seen in any ballot
// resolves to Absent everywhere, so unknown ids are not an error.
func (ix *Index) BallotsForMember(_ context.Context, memberID string) ([]votes.Row, error) {
	d, err := ix.store.Snapshot()
	if err != nil {
		return nil, err
	}
	return ix.resolver.Resolve(d, memberID), nil
}

func (ix *Index) RecusalsForMember(_ context.Context, memberID string) ([]parliament.Recusal, error) {
	d, err := ix.store.Snapshot()
	if err != nil {
		return nil, err
	}
	out := d.Recusals(memberID)
	if out == nil {
		out = []parliament.Recusal{}
	}
	return out, nil
}

// MembersOfBody lists the body's members. A body id absent from the body
// records but referenced by mandates still has a roster.
func (ix *Index) MembersOfBody(_ context.Context, bodyID string) (Roster, error) {
	d, err := ix.store.Snapshot()
	if err != nil {
		return Roster{}, err
	}
	ids := d.MembersOf(bodyID)
	out := Roster{BodyID: bodyID, Members: make([]parliament.Member, 0, len(ids))}
	if b, ok := d.Body(bodyID); ok {
		out.Body = &b
	}
	if out.Body == nil && len(ids) == 0 {
		return Roster{}, &parliament.NotFoundError{Kind: "body", ID: bodyID}
	}
	for _, id := range ids {
		if m, ok := d.Member(id); ok {
			out.Members = append(out.Members, m)
		}
	}
	return out, nil
}

func (ix *Index) Coherence(_ context.Context, memberID string) (votes.Coherence, error) {
	d, err := ix.store.Snapshot()
	if err != nil {
		return votes.Coherence{}, err
	}
	m, err := member(d, memberID)
	if err != nil {
		return votes.Coherence{}, err
	}
	return votes.ComputeCoherence(d, m, ix.groupPrefix), nil
}

// SearchBallots matches Text against titles ignoring case and diacritics.
// Ballots with an unparsable date are excluded once a range is set.
func (ix *Index) SearchBallots(_ context.Context, q BallotSearch) ([]BallotSummary, error) {
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, fmt.Errorf("%w: range ends before it starts", ErrInvalidQuery)
	}
	d, err := ix.store.Snapshot()
	if err != nil {
		return nil, err
	}
	needle := dataset.Fold(q.Text)
	ranged := !q.From.IsZero() || !q.To.IsZero()
	out := []BallotSummary{}
	for _, b := range d.Ballots() {
		if needle != "" && !strings.Contains(dataset.Fold(b.Title), needle) {
			continue
		}
		if ranged {
			day, ok := ballotDay(b.Date)
			if !ok || (!q.From.IsZero() && day.Before(q.From)) || (!q.To.IsZero() && day.After(q.To)) {
				continue
			}
		}
		out = append(out, BallotSummary{Number: b.Number, Date: b.Date, Title: b.Title, Outcome: b.Outcome})
	}
	return out, nil
}

// EnrichMember joins the member against the statistics API. Enrichment
// failures are reported inside the result, never as the call's error.
func (ix *Index) EnrichMember(ctx context.Context, memberID string) (EnrichedMember, error) {
	d, err := ix.store.Snapshot()
	if err != nil {
		return EnrichedMember{}, err
	}
	m, err := member(d, memberID)
	if err != nil {
		return EnrichedMember{}, err
	}
	out := EnrichedMember{Member: m}
	if ix.enricher == nil {
		out.Enrichment.Error = enrich.ErrNotConfigured.Error()
		return out, nil
	}
	res, err := ix.enricher.Lookup(ctx, m.ID)
	if err != nil {
		out.Enrichment.Error = err.Error()
		return out, nil
	}
	out.Enrichment = Enrichment{Available: true, Resource: res.Resource, Column: res.Column, Rows: res.Rows}
	return out, nil
}

// ParseDay parses a YYYY-MM-DD query parameter. Empty input yields the zero time.
func ParseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q, want YYYY-MM-DD", ErrInvalidQuery, s)
	}
	return t, nil
}

func ballotDay(s string) (time.Time, bool) {
	if len(s) < len(time.DateOnly) {
		return time.Time{}, false
	}
	t, err := time.Parse(time.DateOnly, s[:len(time.DateOnly)])
	return t, err == nil
}

func member(d *dataset.Dataset, id string) (parliament.Member, error) {
	m, ok := d.Member(id)
	if !ok {
		return parliament.Member{}, &parliament.NotFoundError{Kind: "member", ID: id}
	}
	return m, nil
}
