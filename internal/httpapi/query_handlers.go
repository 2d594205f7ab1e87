package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"hemicycle.org/internal/query"
)

func (a *API) handleMembersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	m, err := a.queries.GetMember(r.Context(), query.MemberQuery{ID: q.Get("id"), Name: q.Get("name")})
	if err != nil {
		handleQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleMemberResource serves /v1/members/{id} and its sub-resources.
func (a *API) handleMemberResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, sub, ok := splitResource(r.URL.Path, "/v1/members/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	var (
		out any
		err error
	)
	ctx := r.Context()
	switch sub {
	case "":
		out, err = a.queries.GetMember(ctx, query.MemberQuery{ID: id})
	case "ballots":
		out, err = a.queries.BallotsForMember(ctx, id)
	case "recusals":
		out, err = a.queries.RecusalsForMember(ctx, id)
	case "coherence":
		out, err = a.queries.Coherence(ctx, id)
	case "enrichment":
		out, err = a.queries.EnrichMember(ctx, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		handleQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleBodiesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	items, err := a.queries.ListBodies(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		handleQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// handleBodyResource serves /v1/bodies/{id} and /v1/bodies/{id}/members.
func (a *API) handleBodyResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, sub, ok := splitResource(r.URL.Path, "/v1/bodies/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	var (
		out any
		err error
	)
	switch sub {
	case "":
		out, err = a.queries.GetBody(r.Context(), id)
	case "members":
		out, err = a.queries.MembersOfBody(r.Context(), id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		handleQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleBallots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	from, err := query.ParseDay(q.Get("from"))
	if err != nil {
		handleQueryError(w, r, err)
		return
	}
	to, err := query.ParseDay(q.Get("to"))
	if err != nil {
		handleQueryError(w, r, err)
		return
	}
	items, err := a.queries.SearchBallots(r.Context(), query.BallotSearch{Text: q.Get("q"), From: from, To: to})
	if err != nil {
		handleQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// handleBallotResource serves /v1/ballots/{number}.
func (a *API) handleBallotResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	raw, sub, ok := splitResource(r.URL.Path, "/v1/ballots/")
	if !ok || sub != "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	number, err := strconv.Atoi(raw)
	if err != nil || number <= 0 {
		handleQueryError(w, r, fmt.Errorf("%w: ballot number %q", query.ErrInvalidQuery, raw))
		return
	}
	b, err := a.queries.GetBallot(r.Context(), number)
	if err != nil {
		handleQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// splitResource turns "/prefix/{id}[/{sub}]" into its parts.
func splitResource(path, prefix string) (id, sub string, ok bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", "", false
	}
	id, sub, _ = strings.Cut(rest, "/")
	if strings.Contains(sub, "/") {
		return "", "", false
	}
	return id, sub, true
}
