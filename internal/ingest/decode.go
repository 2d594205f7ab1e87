package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"hemicycle.org/internal/parliament"
)

// ErrMalformed marks entries that could not be turned into an entity.
var ErrMalformed = errors.New("malformed record")

// ParseError reports one archive entry that was skipped.
type ParseError struct {
	Entry string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Entry, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrMalformed, e.Err} }

// Record is a classified, normalized entity. Exactly one pointer matching
// Kind is set; KindUnknown records carry none.
type Record struct {
	Kind    Kind
	Member  *parliament.Member
	Body    *parliament.Body
	Recusal *parliament.Recusal
	Ballot  *parliament.Ballot
}

// Decode parses one archive entry, classifies it and normalizes it.
// Records of no known shape return KindUnknown and a nil error.
func Decode(name string, data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return Record{}, &ParseError{Entry: name, Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Record{}, &ParseError{Entry: name, Err: errors.New("trailing data after top-level value")}
	}
	rec, ok := tree.(map[string]any)
	if !ok {
		return Record{}, &ParseError{Entry: name, Err: fmt.Errorf("top-level value is %T, want object", tree)}
	}

	var (
		out = Record{Kind: Classify(rec)}
		err error
	)
	switch out.Kind {
	case KindMember:
		var m parliament.Member
		m, err = normalizeMember(rec)
		out.Member = &m
	case KindRecusal:
		var r parliament.Recusal
		r, err = normalizeRecusal(rec)
		out.Recusal = &r
	case KindBody:
		var b parliament.Body
		b, err = normalizeBody(rec)
		out.Body = &b
	case KindBallot:
		var b parliament.Ballot
		b, err = normalizeBallot(rec)
		out.Ballot = &b
	}
	if err != nil {
		return Record{}, &ParseError{Entry: name, Err: err}
	}
	return out, nil
}
