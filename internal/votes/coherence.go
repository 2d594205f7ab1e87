package votes

import (
	"math"

	"hemicycle.org/internal/dataset"
	"hemicycle.org/internal/parliament"
)

// Outcome of a coherence computation.
type Outcome string

const (
	OutcomeScored        Outcome = "scored"
	OutcomeGroupNotFound Outcome = "group_not_found"
	OutcomeNoVotes       Outcome = "no_votes_found"
)

// Coherence is how often a member voted with their political group's majority.
// Rate is only set when Outcome is OutcomeScored.
type Coherence struct {
	MemberID   string   `json:"member_id"`
	GroupID    string   `json:"group_id,omitempty"`
	GroupLabel string   `json:"group_label,omitempty"`
	Outcome    Outcome  `json:"outcome"`
	Coherent   int      `json:"coherent"`
	Total      int      `json:"total"`
	Rate       *float64 `json:"rate,omitempty"`
}

// GroupMandate returns the first mandate pointing at a political group.
func GroupMandate(m parliament.Member, groupPrefix string) (parliament.Mandate, bool) {
	for _, md := range m.Mandates {
		if md.IsPoliticalGroup(groupPrefix) {
			return md, true
		}
	}
	return parliament.Mandate{}, false
}

// ComputeCoherence compares the member's position with their group's declared
// majority on every ballot where the group voted as a bloc.
func ComputeCoherence(d *dataset.Dataset, m parliament.Member, groupPrefix string) Coherence {
	out := Coherence{MemberID: m.ID}
	md, ok := GroupMandate(m, groupPrefix)
	if !ok {
		out.Outcome = OutcomeGroupNotFound
		return out
	}
	out.GroupID = md.BodyID
	if body, ok := d.Body(md.BodyID); ok {
		out.GroupLabel = body.Label
	}

	for _, b := range d.Ballots() {
		g, ok := b.Group(md.BodyID)
		if !ok {
			continue
		}
		pos, _ := PositionIn(g, m.ID)
		out.Total++
		if pos == g.Majority {
			out.Coherent++
		}
	}
	if out.Total == 0 {
		out.Outcome = OutcomeNoVotes
		return out
	}
	rate := math.Round(100*float64(out.Coherent)/float64(out.Total)*100) / 100
	out.Outcome = OutcomeScored
	out.Rate = &rate
	return out
}
