package dataset

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"

	"hemicycle.org/internal/ids"
	"hemicycle.org/internal/obs"
	"hemicycle.org/internal/parliament"
)

// Builder accumulates entities for a new generation. It is safe for
// concurrent use so archives can be decoded in parallel.
type Builder struct {
	mu       sync.Mutex
	logger   *slog.Logger
	members  map[string]parliament.Member
	bodies   map[string]parliament.Body
	recusals map[string]parliament.Recusal
	ballots  map[int]parliament.Ballot
	skipped  int
	parseErr int
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		logger:   obs.Component("dataset"),
		members:  make(map[string]parliament.Member),
		bodies:   make(map[string]parliament.Body),
		recusals: make(map[string]parliament.Recusal),
		ballots:  make(map[int]parliament.Ballot),
	}
}

func (b *Builder) AddMember(m parliament.Member) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.members[m.ID]; dup {
		b.logger.Warn("duplicate member replaced", "id", m.ID)
	}
	b.members[m.ID] = m
}

func (b *Builder) AddBody(body parliament.Body) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.bodies[body.UID]; dup {
		b.logger.Warn("duplicate body replaced", "uid", body.UID)
	}
	b.bodies[body.UID] = body
}

func (b *Builder) AddRecusal(r parliament.Recusal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.recusals[r.ID]; dup {
		b.logger.Warn("duplicate recusal replaced", "uid", r.ID, "member", r.MemberID)
	}
	b.recusals[r.ID] = r
}

func (b *Builder) AddBallot(ballot parliament.Ballot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.ballots[ballot.Number]; dup {
		b.logger.Warn("duplicate ballot replaced", "number", ballot.Number, "uid", ballot.UID)
	}
	b.ballots[ballot.Number] = ballot
}

// NoteSkipped counts a record of no known shape.
func (b *Builder) NoteSkipped() {
	b.mu.Lock()
	b.skipped++
	b.mu.Unlock()
}

// NoteParseError counts an entry that failed to parse.
func (b *Builder) NoteParseError() {
	b.mu.Lock()
	b.parseErr++
	b.mu.Unlock()
}

// Build freezes the accumulated entities into a generation. The builder must
// not be used afterwards.
func (b *Builder) Build(now time.Time) *Dataset {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := &Dataset{
		id:          ids.NewGeneration(now),
		builtAt:     now,
		members:     b.members,
		memberIDs:   sortedKeys(b.members),
		byName:      make(map[string][]string),
		bodies:      b.bodies,
		bodyIDs:     sortedKeys(b.bodies),
		bodyMembers: make(map[string][]string),
		recusals:    make(map[string][]parliament.Recusal),
		ballotIndex: make(map[int]int, len(b.ballots)),
	}

	for _, id := range d.memberIDs {
		m := d.members[id]
		for _, key := range nameKeys(m) {
			if !slices.Contains(d.byName[key], id) {
				d.byName[key] = append(d.byName[key], id)
			}
		}
		for _, md := range m.Mandates {
			if !slices.Contains(d.bodyMembers[md.BodyID], id) {
				d.bodyMembers[md.BodyID] = append(d.bodyMembers[md.BodyID], id)
			}
		}
	}

	for _, rid := range sortedKeys(b.recusals) {
		r := b.recusals[rid]
		d.recusals[r.MemberID] = append(d.recusals[r.MemberID], r)
	}

	d.ballots = make([]parliament.Ballot, 0, len(b.ballots))
	for _, ballot := range b.ballots {
		d.ballots = append(d.ballots, ballot)
	}
	slices.SortFunc(d.ballots, func(x, y parliament.Ballot) int {
		return cmp.Compare(x.Number, y.Number)
	})
	for i, ballot := range d.ballots {
		d.ballotIndex[ballot.Number] = i
	}

	d.stats = Stats{
		Members:     len(d.members),
		Bodies:      len(d.bodies),
		Recusals:    len(b.recusals),
		Ballots:     len(d.ballots),
		Skipped:     b.skipped,
		ParseErrors: b.parseErr,
	}
	b.members, b.bodies, b.recusals, b.ballots = nil, nil, nil, nil
	return d
}

func nameKeys(m parliament.Member) []string {
	var keys []string
	for _, s := range []string{m.FamilyName, m.GivenName, m.FullName()} {
		if k := Fold(s); k != "" && !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}
