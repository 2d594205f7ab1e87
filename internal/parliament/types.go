package parliament

import (
	"errors"
	"fmt"
	"strings"
)

// Position is a voter's stance on one ballot.
type Position string

const (
	PositionFor        Position = "For"
	PositionAgainst    Position = "Against"
	PositionAbstention Position = "Abstention"
	PositionNonVoter   Position = "Non-voter"
	PositionAbsent     Position = "Absent"
	PositionUnknown    Position = "Unknown"
)

// BucketOrder is the fixed scan order of voter buckets.
var BucketOrder = [...]Position{PositionFor, PositionAgainst, PositionAbstention, PositionNonVoter}

// ParsePosition maps a source majority label ("pour", "contre", ...) to a Position.
func ParsePosition(raw string) Position {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pour", "for":
		return PositionFor
	case "contre", "against":
		return PositionAgainst
	case "abstention", "abstentions":
		return PositionAbstention
	case "nonvotant", "nonvotants", "non-votant", "non-voter":
		return PositionNonVoter
	default:
		return PositionUnknown
	}
}

const (
	DefaultProfession = "not provided"
	DefaultLabel      = "Unknown"
	GroupTypeTag      = "GP"
)

// Member is an elected representative.
type Member struct {
	ID         string    `json:"id"`
	Civility   string    `json:"civility,omitempty"`
	GivenName  string    `json:"given_name"`
	FamilyName string    `json:"family_name"`
	BirthDate  string    `json:"birth_date,omitempty"`
	Profession string    `json:"profession"`
	Mandates   []Mandate `json:"mandates"`
}

// FullName is "given family".
func (m Member) FullName() string {
	return strings.TrimSpace(m.GivenName + " " + m.FamilyName)
}

// Mandate links a member to a body for a period.
type Mandate struct {
	ID          string `json:"id,omitempty"`
	MemberID    string `json:"member_id"`
	BodyID      string `json:"body_id"`
	BodyType    string `json:"body_type,omitempty"`
	Legislature string `json:"legislature,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
}

// IsPoliticalGroup reports whether the mandate points at a political group.
// An explicit type tag decides; untagged mandates fall back to the body id prefix.
func (m Mandate) IsPoliticalGroup(groupPrefix string) bool {
	if m.BodyType != "" {
		return m.BodyType == GroupTypeTag
	}
	return groupPrefix != "" && strings.HasPrefix(m.BodyID, groupPrefix)
}

// Body is a chamber, committee or political group.
type Body struct {
	UID         string `json:"uid"`
	Label       string `json:"label"`
	ShortLabel  string `json:"short_label,omitempty"`
	Type        string `json:"type"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	Legislature string `json:"legislature,omitempty"`
}

// Recusal is a declared conflict-of-interest exemption.
type Recusal struct {
	ID          string `json:"id"`
	MemberID    string `json:"member_id"`
	Legislature string `json:"legislature,omitempty"`
	Reason      string `json:"reason"`
	Target      string `json:"target,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
}

// Ballot is one roll-call vote.
type Ballot struct {
	UID         string        `json:"uid,omitempty"`
	Number      int           `json:"number"`
	Legislature string        `json:"legislature,omitempty"`
	Date        string        `json:"date"`
	Title       string        `json:"title"`
	Outcome     string        `json:"outcome,omitempty"`
	VoteType    string        `json:"vote_type,omitempty"`
	Groups      []GroupRecord `json:"groups"`
}

// Group returns the record for bodyID, if the group voted as a bloc.
func (b Ballot) Group(bodyID string) (GroupRecord, bool) {
	for _, g := range b.Groups {
		if g.BodyID == bodyID {
			return g, true
		}
	}
	return GroupRecord{}, false
}

// GroupRecord is one bloc's breakdown on a ballot.
type GroupRecord struct {
	BodyID     string   `json:"body_id"`
	Majority   Position `json:"majority"`
	For        []string `json:"for"`
	Against    []string `json:"against"`
	Abstention []string `json:"abstention"`
	NonVoter   []string `json:"non_voter"`
}

// Bucket returns the voter list for a position.
func (g GroupRecord) Bucket(p Position) []string {
	switch p {
	case PositionFor:
		return g.For
	case PositionAgainst:
		return g.Against
	case PositionAbstention:
		return g.Abstention
	case PositionNonVoter:
		return g.NonVoter
	}
	return nil
}

var (
	ErrNotFound  = errors.New("not found")
	ErrAmbiguous = errors.New("ambiguous query")
	ErrNotReady  = errors.New("dataset not ready")
)

// NotFoundError reports a query id absent from the current generation.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AmbiguousQueryError carries the candidates of a name lookup that matched several members.
type AmbiguousQueryError struct {
	Query      string
	Candidates []Member
}

func (e *AmbiguousQueryError) Error() string {
	return fmt.Sprintf("%q matches %d members", e.Query, len(e.Candidates))
}

func (e *AmbiguousQueryError) Unwrap() error { return ErrAmbiguous }
