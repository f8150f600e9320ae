package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hustings/internal/ballot/models"
	"hustings/internal/ballot/service"
	"hustings/internal/ballot/session"
	ballotmemory "hustings/internal/ballot/store/memory"
	nommodels "hustings/internal/nomination/models"
	nommemory "hustings/internal/nomination/store/memory"
	rostermodels "hustings/internal/roster/models"
	rostermemory "hustings/internal/roster/store/memory"
	settingsmodels "hustings/internal/settings/models"
	settingsmemory "hustings/internal/settings/store/memory"
	"hustings/internal/votertoken"
	"hustings/pkg/domain"
	"hustings/pkg/testutil"
)

// Justification: the handler is exercised against the real session, service
// and in-memory stores, so the whole voting path is covered end to end.
type fixture struct {
	router      http.Handler
	nominations *nommemory.InMemory
	settings    *settingsmemory.InMemory
	candidate   domain.NominationID
	token       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	roster := rostermemory.New()
	require.NoError(t, roster.Upsert(ctx, rostermodels.Organization{
		Name:   "UNITE-042",
		Status: rostermodels.StatusApproved,
		Voters: []rostermodels.Voter{{Name: "Jane Doe", Email: "jane@union.org"}},
	}))

	noms := nommemory.NewInMemory()
	now := time.Now().UTC()
	n, err := nommodels.NewNomination(domain.NewNominationID(),
		nommodels.Nominee{FirstName: "John", Surname: "Smith", Organization: "Company X", Position: domain.PositionPresident},
		nommodels.Nominator{FirstName: "John", Surname: "Smith", SelfNominated: true},
		"tok", now)
	require.NoError(t, err)
	require.NoError(t, noms.Create(ctx, n))
	require.NoError(t, noms.UpdateStatus(ctx, n.ID, nommodels.StatusPending, nommodels.StatusApproved, now))

	settings := settingsmemory.NewInMemory()
	require.NoError(t, settings.Set(ctx, settingsmodels.OpenPositions{domain.PositionPresident: true}))

	svc := service.New(ballotmemory.New(noms), noms, settings,
		service.WithLogger(logger), service.WithRetryPolicy(0, time.Millisecond))
	h := New(svc, votertoken.NewValidator(roster, votertoken.WithLogger(logger)), logger)

	r := chi.NewRouter()
	h.Register(r)
	r.Route("/admin", h.RegisterAdmin)
	return &fixture{
		router:      r,
		nominations: noms,
		settings:    settings,
		candidate:   n.ID,
		token:       votertoken.Derive("jane@union.org", "UNITE-042"),
	}
}

func (f *fixture) votes(t *testing.T) int64 {
	counters, err := f.nominations.Counters(context.Background())
	require.NoError(t, err)
	return counters[f.candidate]
}

func (f *fixture) submit(t *testing.T, key string) *http.Request {
	return testutil.NewJSONRequest(t, http.MethodPost, "/ballot/submit", BallotRequest{
		Token:          f.token,
		Votes:          map[string]string{"president": f.candidate.String()},
		IdempotencyKey: key,
	})
}

func TestView(t *testing.T) {
	f := newFixture(t)

	rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/ballot?token="+f.token))
	testutil.AssertStatusOK(t, rr)
	view := testutil.UnmarshalResponse[session.View](t, rr)
	assert.Equal(t, session.StateComposing, view.State)
	assert.Equal(t, "Jane Doe", view.Voter.Name)
	require.Len(t, view.Positions, len(domain.AllPositions()))
	assert.True(t, view.Positions[0].Open)
	require.Len(t, view.Positions[0].Candidates, 1)
	assert.Equal(t, "John Smith", view.Positions[0].Candidates[0].FullName)
	assert.False(t, view.Positions[1].Open)

	t.Run("unknown token is denied", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/ballot?token=AAAAAAAAAAAA"))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "access_denied")
	})

	t.Run("missing token is denied", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/ballot"))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "access_denied")
	})
}

func TestReview(t *testing.T) {
	f := newFixture(t)

	rr := testutil.DoRequest(f.router, testutil.NewJSONRequest(t, http.MethodPost, "/ballot/review", BallotRequest{
		Token: f.token,
		Votes: map[string]string{"president": f.candidate.String()},
	}))
	testutil.AssertStatusOK(t, rr)
	view := testutil.UnmarshalResponse[session.View](t, rr)
	assert.Equal(t, session.StateReviewPending, view.State)
	assert.Equal(t, f.candidate.String(), view.Positions[0].Selected)

	t.Run("empty ballot", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, testutil.NewJSONRequest(t, http.MethodPost, "/ballot/review", BallotRequest{Token: f.token}))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
		testutil.AssertFieldError(t, rr, "votes")
	})

	t.Run("every bad vote is reported", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, testutil.NewJSONRequest(t, http.MethodPost, "/ballot/review", BallotRequest{
			Token: f.token,
			Votes: map[string]string{
				"chairperson": f.candidate.String(),
				"treasurer":   f.candidate.String(),
				"president":   "not-an-id",
			},
		}))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
		testutil.AssertFieldError(t, rr, "votes.chairperson")
		testutil.AssertFieldError(t, rr, "votes.treasurer")
		testutil.AssertFieldError(t, rr, "votes.president")
	})
}

// Justification: one ballot per voter over HTTP. The counter moves by one and
// a second ballot from the same voter is refused.
func TestSubmitOncePerVoter(t *testing.T) {
	f := newFixture(t)

	rr := testutil.DoRequest(f.router, f.submit(t, "key-1"))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	resp := testutil.UnmarshalResponse[SubmitResponse](t, rr)
	assert.True(t, resp.Counted)
	assert.Equal(t, session.StateSubmitted, resp.State)
	assert.Equal(t, int64(1), f.votes(t))

	t.Run("retry with the same key replays", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, f.submit(t, "key-1"))
		testutil.AssertStatusOK(t, rr)
		replay := testutil.UnmarshalResponse[SubmitResponse](t, rr)
		assert.True(t, replay.Replayed)
		assert.Equal(t, resp.BallotID, replay.BallotID)
		assert.Equal(t, int64(1), f.votes(t))
	})

	t.Run("new key is already voted", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, f.submit(t, "key-2"))
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "already_voted")
		assert.Equal(t, int64(1), f.votes(t))
	})

	t.Run("summary lists the voter", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/admin/ballots"))
		testutil.AssertStatusOK(t, rr)
		summary := testutil.UnmarshalResponse[models.Summary](t, rr)
		assert.Equal(t, 1, summary.Turnout.Ballots)
		require.Len(t, summary.Ballots, 1)
		assert.Equal(t, "jane@union.org", summary.Ballots[0].VoterEmail)
	})
}

func TestSubmitRequiresIdempotencyKey(t *testing.T) {
	f := newFixture(t)

	rr := testutil.DoRequest(f.router, f.submit(t, ""))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertFieldError(t, rr, "idempotencyKey")

	t.Run("header is accepted", func(t *testing.T) {
		req := f.submit(t, "")
		req.Header.Set("Idempotency-Key", "from-header")
		rr := testutil.DoRequest(f.router, req)
		testutil.AssertStatus(t, rr, http.StatusCreated)
	})
}

func TestSubmitAfterPositionCloses(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.settings.Set(context.Background(), settingsmodels.OpenPositions{}))

	rr := testutil.DoRequest(f.router, f.submit(t, "key-1"))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertFieldError(t, rr, "votes.president")
	assert.Zero(t, f.votes(t))
}
