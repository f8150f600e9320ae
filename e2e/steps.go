package e2e

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cucumber/godog"

	"hustings/internal/votertoken"
	"hustings/pkg/platform/audit"
)

// RegisterSteps binds the feature vocabulary to w.
func RegisterSteps(ctx *godog.ScenarioContext, w *World) {
	ctx.Step(`^the roster lists "([^"]*)" for organization "([^"]*)"$`, w.rosterLists)
	ctx.Step(`^"([^"]*)" self-nominates for "([^"]*)"$`, w.selfNominates)
	ctx.Step(`^"([^"]*)" is nominated for "([^"]*)" by a colleague$`, w.nominatedByColleague)
	ctx.Step(`^"([^"]*)" accepts the nomination through the acceptance link$`, w.acceptsNomination)
	ctx.Step(`^the admin approves every nomination$`, w.approveAll)
	ctx.Step(`^the admin opens voting for "([^"]*)"$`, w.openVoting)
	ctx.Step(`^the admin rejects "([^"]*)"$`, w.reject)
	ctx.Step(`^the admin reconciles the tally$`, w.reconcile)

	ctx.Step(`^"([^"]*)" opens the ballot link$`, w.openBallot)
	ctx.Step(`^a ballot is opened with token "([^"]*)"$`, w.openBallotWithToken)
	ctx.Step(`^"([^"]*)" votes for "([^"]*)" as "([^"]*)" with key "([^"]*)"$`, w.vote)
	ctx.Step(`^the last submission is retried$`, w.retry)

	ctx.Step(`^the response status is (\d+)$`, w.expect)
	ctx.Step(`^the error code is "([^"]*)"$`, w.errorCode)
	ctx.Step(`^"([^"]*)" has (\d+) votes? at (\d+) percent$`, w.candidateHas)
	ctx.Step(`^turnout is (\d+) ballots?$`, w.turnoutIs)
	ctx.Step(`^no drift is reported$`, w.noDrift)
	ctx.Step(`^the audit trail holds (\d+) "([^"]*)" events?$`, w.auditHolds)
}

func (w *World) rosterLists(email, org string) error {
	roster := []map[string]any{{
		"organization": org,
		"status":       "Approved",
		"voters":       []map[string]string{{"email": email}},
	}}
	if err := w.do(http.MethodPost, "/admin/roster", roster, true); err != nil {
		return err
	}
	if err := w.expect(http.StatusOK); err != nil {
		return err
	}

	if err := w.do(http.MethodGet, "/admin/voter-links", nil, true); err != nil {
		return err
	}
	var links []votertoken.Link
	if err := w.decode(&links); err != nil {
		return err
	}
	for _, l := range links {
		u, err := url.Parse(l.URL)
		if err != nil {
			return err
		}
		w.tokens[l.Email] = u.Query().Get("token")
	}
	if w.tokens[email] == "" {
		return fmt.Errorf("no ballot link issued for %s", email)
	}
	return nil
}

func (w *World) nominate(fullName, position, kind string) error {
	first, surname, _ := strings.Cut(fullName, " ")
	handle := strings.ToLower(first + "." + surname)
	req := map[string]string{
		"nominatorFirstName":        "Alex",
		"nominatorSurname":          "Reid",
		"nominatorEmail":            "alex.reid@union.org",
		"nominatorPhone":            "07700900001",
		"nominatorMembershipNumber": "UNITE-042",
		"selfNomination":            kind,
		"positionNominated":         position,
		"firstName":                 first,
		"surname":                   surname,
		"email":                     handle + "@union.org",
		"phone":                     "07700900002",
		"jobTitle":                  "Shop steward",
		"membershipNumber":          "UNITE-042",
		"cvBioText":                 "Twenty years organizing in logistics.",
	}
	if kind == "self" {
		req["nominatorFirstName"] = first
		req["nominatorSurname"] = surname
		req["nominatorEmail"] = handle + "@union.org"
	}
	if err := w.do(http.MethodPost, "/nominations", req, false); err != nil {
		return err
	}
	if err := w.expect(http.StatusCreated); err != nil {
		return err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := w.decode(&created); err != nil {
		return err
	}
	w.nominations[fullName] = created.ID
	return nil
}

func (w *World) selfNominates(name, position string) error {
	return w.nominate(name, position, "self")
}

func (w *World) nominatedByColleague(name, position string) error {
	return w.nominate(name, position, "third-party")
}

func (w *World) nominationID(name string) (string, error) {
	id, ok := w.nominations[name]
	if !ok {
		return "", fmt.Errorf("no nomination for %q", name)
	}
	return id, nil
}

func (w *World) acceptsNomination(name string) error {
	id, err := w.nominationID(name)
	if err != nil {
		return err
	}
	if err := w.do(http.MethodPost, "/admin/nominations/"+id+"/acceptance-link", nil, true); err != nil {
		return err
	}
	if err := w.expect(http.StatusOK); err != nil {
		return err
	}
	var resp struct {
		Link string `json:"link"`
	}
	if err := w.decode(&resp); err != nil {
		return err
	}
	link, err := url.Parse(resp.Link)
	if err != nil {
		return err
	}
	path := "/nominations/" + id + "/acceptance?token=" + url.QueryEscape(link.Query().Get("token"))
	if err := w.do(http.MethodPost, path, map[string]string{"decision": "accept"}, false); err != nil {
		return err
	}
	return w.expect(http.StatusOK)
}

func (w *World) setStatus(name, status string) error {
	id, err := w.nominationID(name)
	if err != nil {
		return err
	}
	return w.do(http.MethodPut, "/admin/nominations/"+id+"/status", map[string]string{"status": status}, true)
}

func (w *World) approveAll() error {
	for name := range w.nominations {
		if err := w.setStatus(name, "approved"); err != nil {
			return err
		}
		if err := w.expect(http.StatusOK); err != nil {
			return fmt.Errorf("approve %s: %w", name, err)
		}
	}
	return nil
}

func (w *World) reject(name string) error {
	return w.setStatus(name, "rejected")
}

func (w *World) openVoting(position string) error {
	if err := w.do(http.MethodPut, "/admin/voting-settings", map[string]bool{position: true}, true); err != nil {
		return err
	}
	return w.expect(http.StatusOK)
}

func (w *World) reconcile() error {
	return w.do(http.MethodPost, "/admin/reconcile", nil, true)
}

func (w *World) openBallot(email string) error {
	return w.openBallotWithToken(w.tokens[email])
}

func (w *World) openBallotWithToken(token string) error {
	return w.do(http.MethodGet, "/ballot?token="+url.QueryEscape(token), nil, false)
}

func (w *World) vote(email, name, position, key string) error {
	id, err := w.nominationID(name)
	if err != nil {
		return err
	}
	w.lastSubmit = map[string]any{
		"token":          w.tokens[email],
		"votes":          map[string]string{position: id},
		"idempotencyKey": key,
	}
	return w.do(http.MethodPost, "/ballot/submit", w.lastSubmit, false)
}

func (w *World) retry() error {
	if w.lastSubmit == nil {
		return fmt.Errorf("nothing was submitted")
	}
	return w.do(http.MethodPost, "/ballot/submit", w.lastSubmit, false)
}

func (w *World) errorCode(code string) error {
	var resp struct {
		Error string `json:"error"`
	}
	if err := w.decode(&resp); err != nil {
		return err
	}
	if resp.Error != code {
		return fmt.Errorf("expected error %q, got %q", code, resp.Error)
	}
	return nil
}

type resultsResponse struct {
	Positions []struct {
		Candidates []struct {
			ID         string `json:"id"`
			Votes      int64  `json:"votes"`
			Percentage int    `json:"percentage"`
		} `json:"candidates"`
	} `json:"positions"`
	Turnout struct {
		Ballots int `json:"ballots"`
	} `json:"turnout"`
}

func (w *World) results() (*resultsResponse, error) {
	if err := w.do(http.MethodGet, "/results", nil, false); err != nil {
		return nil, err
	}
	if err := w.expect(http.StatusOK); err != nil {
		return nil, err
	}
	var res resultsResponse
	if err := w.decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (w *World) candidateHas(name string, votes int64, percentage int) error {
	id, err := w.nominationID(name)
	if err != nil {
		return err
	}
	res, err := w.results()
	if err != nil {
		return err
	}
	for _, p := range res.Positions {
		for _, c := range p.Candidates {
			if c.ID != id {
				continue
			}
			if c.Votes != votes || c.Percentage != percentage {
				return fmt.Errorf("%s has %d votes at %d%%, want %d at %d%%", name, c.Votes, c.Percentage, votes, percentage)
			}
			return nil
		}
	}
	return fmt.Errorf("%s is not in the results", name)
}

func (w *World) turnoutIs(ballots int) error {
	res, err := w.results()
	if err != nil {
		return err
	}
	if res.Turnout.Ballots != ballots {
		return fmt.Errorf("turnout is %d ballots, want %d", res.Turnout.Ballots, ballots)
	}
	return nil
}

func (w *World) noDrift() error {
	var report struct {
		Drift []any `json:"drift"`
	}
	if err := w.decode(&report); err != nil {
		return err
	}
	if len(report.Drift) != 0 {
		return fmt.Errorf("reconcile reported drift: %v", report.Drift)
	}
	return nil
}

func (w *World) auditHolds(n int, eventType string) error {
	events, err := w.events.ListByType(context.Background(), audit.EventType(eventType))
	if err != nil {
		return err
	}
	if len(events) != n {
		return fmt.Errorf("audit trail holds %d %s events, want %d", len(events), eventType, n)
	}
	return nil
}

// InitializeScenario gives each scenario a fresh server. Steps are bound to
// one World value which Before replaces in place.
func InitializeScenario(sc *godog.ScenarioContext) {
	w := &World{}
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		fresh, err := NewWorld()
		if err != nil {
			return ctx, err
		}
		*w = *fresh
		return ctx, nil
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		if w.server != nil {
			w.Close()
		}
		return ctx, nil
	})
	RegisterSteps(sc, w)
}
