package dataset

import (
	"slices"
	"time"

	"hemicycle.org/internal/parliament"
)

// Stats counts what went into a generation.
type Stats struct {
	Members     int `json:"members"`
	Bodies      int `json:"bodies"`
	Recusals    int `json:"recusals"`
	Ballots     int `json:"ballots"`
	Skipped     int `json:"skipped"`
	ParseErrors int `json:"parse_errors"`
}

// Map returns the counts keyed by entity kind.
func (s Stats) Map() map[string]int {
	return map[string]int{
		"members":      s.Members,
		"bodies":       s.Bodies,
		"recusals":     s.Recusals,
		"ballots":      s.Ballots,
		"skipped":      s.Skipped,
		"parse_errors": s.ParseErrors,
	}
}

// Dataset is one immutable generation of the index. Nothing mutates it after
// Build returns; slices handed out by accessors must be treated as read-only.
type Dataset struct {
	id      string
	builtAt time.Time
	stats   Stats

	members     map[string]parliament.Member
	memberIDs   []string
	byName      map[string][]string
	bodies      map[string]parliament.Body
	bodyIDs     []string
	bodyMembers map[string][]string
	recusals    map[string][]parliament.Recusal
	ballots     []parliament.Ballot
	ballotIndex map[int]int
}

// ID is the generation identifier.
func (d *Dataset) ID() string { return d.id }

// BuiltAt is when the generation was assembled.
func (d *Dataset) BuiltAt() time.Time { return d.builtAt }

// Stats returns entity counts.
func (d *Dataset) Stats() Stats { return d.stats }

// Member looks a member up by id.
func (d *Dataset) Member(id string) (parliament.Member, bool) {
	m, ok := d.members[id]
	return m, ok
}

// MemberIDs returns all member ids in sorted order.
func (d *Dataset) MemberIDs() []string { return d.memberIDs }

// MembersByName matches given name, family name or "given family",
// ignoring case and diacritics. Results are ordered by id.
func (d *Dataset) MembersByName(name string) []parliament.Member {
	ids := d.byName[Fold(name)]
	out := make([]parliament.Member, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.members[id])
	}
	return out
}

// Body looks a body up by uid.
func (d *Dataset) Body(uid string) (parliament.Body, bool) {
	b, ok := d.bodies[uid]
	return b, ok
}

// BodyIDs returns all body uids in sorted order.
func (d *Dataset) BodyIDs() []string { return d.bodyIDs }

// MembersOf returns the ids of members holding a mandate in the body.
func (d *Dataset) MembersOf(bodyID string) []string { return d.bodyMembers[bodyID] }

// Recusals returns the recusals declared by a member.
func (d *Dataset) Recusals(memberID string) []parliament.Recusal { return d.recusals[memberID] }

// Ballots returns every ballot ordered by number.
func (d *Dataset) Ballots() []parliament.Ballot { return d.ballots }

// Ballot looks a ballot up by number.
func (d *Dataset) Ballot(number int) (parliament.Ballot, bool) {
	i, ok := d.ballotIndex[number]
	if !ok {
		return parliament.Ballot{}, false
	}
	return d.ballots[i], true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
