package ingest

import (
	"errors"
	"fmt"
	"strconv"

	"hemicycle.org/internal/parliament"
)

var errMissingID = errors.New("missing identifier")

func normalizeMember(rec map[string]any) (parliament.Member, error) {
	actor := object(rec, "acteur")
	m := parliament.Member{
		ID:         text(actor, "uid"),
		Civility:   text(actor, "etatCivil", "ident", "civ"),
		GivenName:  text(actor, "etatCivil", "ident", "prenom"),
		FamilyName: text(actor, "etatCivil", "ident", "nom"),
		BirthDate:  text(actor, "etatCivil", "infoNaissance", "dateNais"),
		Profession: firstText(actor, []string{"profession", "libelleCourant"}, []string{"profession"}),
	}
	if m.ID == "" {
		return parliament.Member{}, fmt.Errorf("member: %w", errMissingID)
	}
	if m.Profession == "" {
		m.Profession = parliament.DefaultProfession
	}
	for _, raw := range list(actor, "mandats", "mandat") {
		md := normalizeMandate(raw)
		if md.BodyID == "" {
			continue
		}
		if md.MemberID == "" {
			md.MemberID = m.ID
		}
		m.Mandates = append(m.Mandates, md)
	}
	if m.Mandates == nil {
		m.Mandates = []parliament.Mandate{}
	}
	return m, nil
}

func normalizeMandate(raw any) parliament.Mandate {
	md := parliament.Mandate{
		ID:          text(raw, "uid"),
		MemberID:    text(raw, "acteurRef"),
		BodyType:    text(raw, "typeOrgane"),
		Legislature: text(raw, "legislature"),
		StartDate:   text(raw, "dateDebut"),
		EndDate:     text(raw, "dateFin"),
	}
	// organeRef is a single reference for most mandates and a list for a few.
	for _, ref := range list(raw, "organes", "organeRef") {
		if s := text(ref); s != "" {
			md.BodyID = s
			break
		}
	}
	return md
}

func normalizeRecusal(rec map[string]any) (parliament.Recusal, error) {
	c := recusalContainer(rec)
	r := parliament.Recusal{
		ID:          text(c, "uid"),
		MemberID:    firstText(c, []string{"refActeur"}, []string{"acteurRef"}),
		Legislature: text(c, "legislature"),
		Reason:      firstText(c, []string{"explication"}, []string{"motif"}, []string{"raison"}),
		Target:      firstText(c, []string{"cible", "referenceTextuelle"}, []string{"cible", "libelle"}),
		StartDate:   firstText(c, []string{"dateDebut"}, []string{"dateCreation"}),
		EndDate:     firstText(c, []string{"dateFin"}),
	}
	if r.ID == "" || r.MemberID == "" {
		return parliament.Recusal{}, fmt.Errorf("recusal: %w", errMissingID)
	}
	if r.Reason == "" {
		r.Reason = parliament.DefaultLabel
	}
	return r, nil
}

func normalizeBody(rec map[string]any) (parliament.Body, error) {
	o := object(rec, "organe")
	b := parliament.Body{
		UID:         text(o, "uid"),
		Label:       text(o, "libelle"),
		ShortLabel:  firstText(o, []string{"libelleAbrev"}, []string{"libelleAbrege"}),
		Type:        firstText(o, []string{"codeType"}, []string{"type"}),
		StartDate:   firstText(o, []string{"viMoDe", "dateDebut"}, []string{"dateDebut"}),
		EndDate:     firstText(o, []string{"viMoDe", "dateFin"}, []string{"dateFin"}),
		Legislature: text(o, "legislature"),
	}
	if b.UID == "" {
		return parliament.Body{}, fmt.Errorf("body: %w", errMissingID)
	}
	if b.Label == "" {
		b.Label = parliament.DefaultLabel
	}
	return b, nil
}

// bucketKeys maps each position to its key in decompteNominatif, in scan order.
var bucketKeys = [...]struct {
	pos parliament.Position
	key string
}{
	{parliament.PositionFor, "pours"},
	{parliament.PositionAgainst, "contres"},
	{parliament.PositionAbstention, "abstentions"},
	{parliament.PositionNonVoter, "nonVotants"},
}

func normalizeBallot(rec map[string]any) (parliament.Ballot, error) {
	s := object(rec, "scrutin")
	rawNumber := text(s, "numero")
	number, err := strconv.Atoi(rawNumber)
	if err != nil {
		return parliament.Ballot{}, fmt.Errorf("ballot %q: bad number %q: %w", text(s, "uid"), rawNumber, err)
	}
	b := parliament.Ballot{
		UID:         text(s, "uid"),
		Number:      number,
		Legislature: text(s, "legislature"),
		Date:        text(s, "dateScrutin"),
		Title:       firstText(s, []string{"titre"}, []string{"objet", "libelle"}),
		Outcome:     text(s, "sort", "code"),
		VoteType:    text(s, "typeVote", "libelleTypeVote"),
		Groups:      []parliament.GroupRecord{},
	}
	if b.Title == "" {
		b.Title = parliament.DefaultLabel
	}
	for _, organ := range list(s, "ventilationVotes", "organe") {
		for _, g := range list(organ, "groupes", "groupe") {
			if gr, ok := normalizeGroupRecord(g); ok {
				b.Groups = append(b.Groups, gr)
			}
		}
	}
	return b, nil
}

func normalizeGroupRecord(raw any) (parliament.GroupRecord, bool) {
	gr := parliament.GroupRecord{
		BodyID:   text(raw, "organeRef"),
		Majority: parliament.ParsePosition(text(raw, "vote", "positionMajoritaire")),
	}
	if gr.BodyID == "" {
		return gr, false
	}
	tally := object(raw, "vote", "decompteNominatif")
	for _, bk := range bucketKeys {
		voters := voterIDs(node(tally, bk.key))
		switch bk.pos {
		case parliament.PositionFor:
			gr.For = voters
		case parliament.PositionAgainst:
			gr.Against = voters
		case parliament.PositionAbstention:
			gr.Abstention = voters
		case parliament.PositionNonVoter:
			gr.NonVoter = voters
		}
	}
	return gr, true
}

// voterIDs accepts a bucket that is null, {"votant": one}, {"votant": [...]},
// a single votant, a bare list of votants, or a bare reference string.
func voterIDs(bucket any) []string {
	raw := list(bucket)
	if m, ok := bucket.(map[string]any); ok && !has(m, "acteurRef") {
		raw = list(m, "votant")
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		id := text(v)
		if id == "" {
			id = text(v, "acteurRef")
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
