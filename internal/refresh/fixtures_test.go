package refresh

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"hemicycle.org/internal/archive"
)

const (
	membersURL = "https://data.example.org/AMO10.json.zip"
	ballotsURL = "https://data.example.org/Scrutins.json.zip"
)

type entry struct {
	name string
	body string
}

func zipOf(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = io.WriteString(w, e.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func memberEntry(id, family, groupID string) entry {
	return entry{
		name: "json/acteur/" + id + ".json",
		body: fmt.Sprintf(`{"acteur": {"uid": {"#text": %q}, "etatCivil": {"ident": {"prenom": "P", "nom": %q}},
			"mandats": {"mandat": {"typeOrgane": "GP", "organes": {"organeRef": %q}}}}}`, id, family, groupID),
	}
}

func bodyEntry(id, label string) entry {
	return entry{
		name: "json/organe/" + id + ".json",
		body: fmt.Sprintf(`{"organe": {"uid": %q, "codeType": "GP", "libelle": %q}}`, id, label),
	}
}

func ballotEntry(number int, groupID, majority string, pours ...string) entry {
	votants := make([]string, 0, len(pours))
	for _, p := range pours {
		votants = append(votants, fmt.Sprintf(`{"acteurRef": %q}`, p))
	}
	return entry{
		name: fmt.Sprintf("json/VTANR5L17V%d.json", number),
		body: fmt.Sprintf(`{"scrutin": {"uid": "V%d", "numero": "%d", "dateScrutin": "2024-07-18", "titre": "t%d",
			"ventilationVotes": {"organe": {"groupes": {"groupe": {"organeRef": %q, "vote": {
				"positionMajoritaire": %q, "decompteNominatif": {"pours": {"votant": [%s]}}}}}}}}}`,
			number, number, number, groupID, majority, strings.Join(votants, ",")),
	}
}

// fakeDoer serves archives from memory so tests start no network goroutines.
type fakeDoer struct {
	mu      sync.Mutex
	bodies  map[string][]byte
	status  map[string]int
	block   chan struct{}
	started chan struct{}
}

func newFakeDoer() *fakeDoer {
	return &fakeDoer{bodies: make(map[string][]byte), status: make(map[string]int)}
}

func (f *fakeDoer) set(url string, status int, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[url] = status
	f.bodies[url] = body
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	block, started := f.block, f.started
	status, ok := f.status[req.URL.String()]
	body := f.bodies[req.URL.String()]
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	if !ok {
		return nil, fmt.Errorf("dial %s: connection refused", req.URL.Host)
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    req,
	}, nil
}

func sources() []Source {
	return []Source{{Name: "members", URL: membersURL}, {Name: "ballots", URL: ballotsURL}}
}

func fetcherFor(t *testing.T, d *fakeDoer) *archive.Fetcher {
	return archive.New(archive.WithClient(d), archive.WithTempDir(t.TempDir()))
}

func seed(t *testing.T, d *fakeDoer) {
	d.set(membersURL, http.StatusOK, zipOf(t,
		memberEntry("PA1", "Martin", "PO1"),
		memberEntry("PA2", "Durand", "PO1"),
		bodyEntry("PO1", "Groupe 1"),
	))
	d.set(ballotsURL, http.StatusOK, zipOf(t,
		ballotEntry(1, "PO1", "pour", "PA1", "PA2"),
		ballotEntry(2, "PO1", "contre", "PA1"),
	))
}

