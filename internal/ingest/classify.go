package ingest

// Kind tags the entity type a raw record represents.
type Kind int

const (
	KindUnknown Kind = iota
	KindMember
	KindRecusal
	KindBody
	KindBallot
)

func (k Kind) String() string {
	switch k {
	case KindMember:
		return "member"
	case KindRecusal:
		return "recusal"
	case KindBody:
		return "body"
	case KindBallot:
		return "ballot"
	default:
		return "unknown"
	}
}

type rule struct {
	kind  Kind
	match func(rec map[string]any) bool
}

// rules is evaluated in order; the first match wins. The source format has
// no type tags, so the shape of the record decides.
var rules = []rule{
	{KindMember, isMember},
	{KindRecusal, isRecusal},
	{KindBody, isBody},
	{KindBallot, isBallot},
}

// Classify returns the entity kind of a decoded record.
func Classify(rec map[string]any) Kind {
	for _, r := range rules {
		if r.match(rec) {
			return r.kind
		}
	}
	return KindUnknown
}

func isMember(rec map[string]any) bool {
	actor := object(rec, "acteur")
	if actor == nil {
		return false
	}
	return object(actor, "etatCivil", "ident") != nil || has(actor, "uid")
}

func isRecusal(rec map[string]any) bool {
	if has(rec, "acteur") {
		return false
	}
	c := recusalContainer(rec)
	return has(c, "uid") && (has(c, "refActeur") || has(c, "acteurRef"))
}

func isBody(rec map[string]any) bool {
	return has(object(rec, "organe"), "uid")
}

// Ballots come from their own archive and are keyed by a top-level "scrutin".
func isBallot(rec map[string]any) bool {
	return object(rec, "scrutin") != nil
}

func recusalContainer(rec map[string]any) map[string]any {
	if d := object(rec, "deport"); d != nil {
		return d
	}
	return rec
}
