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

	ballotmodels "hustings/internal/ballot/models"
	ballotmemory "hustings/internal/ballot/store/memory"
	nommodels "hustings/internal/nomination/models"
	nommemory "hustings/internal/nomination/store/memory"
	"hustings/internal/results/models"
	"hustings/internal/results/reconcile"
	"hustings/internal/results/service"
	"hustings/pkg/domain"
	"hustings/pkg/testutil"
)

func setup(t *testing.T) (http.Handler, *nommemory.InMemory, domain.NominationID) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	noms := nommemory.NewInMemory()
	ledger := ballotmemory.New(noms)

	now := time.Now()
	n, err := nommodels.NewNomination(domain.NewNominationID(),
		nommodels.Nominee{FirstName: "John", Surname: "Smith", Organization: "Company X", Position: domain.PositionPresident},
		nommodels.Nominator{FirstName: "John", Surname: "Smith", SelfNominated: true},
		"token", now)
	require.NoError(t, err)
	require.NoError(t, noms.Create(ctx, n))
	require.NoError(t, noms.UpdateStatus(ctx, n.ID, nommodels.StatusPending, nommodels.StatusApproved, now))

	b, err := ballotmodels.NewBallot(domain.NewBallotID(), ballotmodels.Draft{
		VoterEmail:     "jane@union.org",
		VoterName:      "Jane",
		Selections:     map[domain.Position]domain.NominationID{domain.PositionPresident: n.ID},
		IdempotencyKey: "k",
	}, "", "", now)
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(ctx, b))

	h := New(service.New(noms, ledger, service.WithLogger(logger)),
		reconcile.New(ledger, reconcile.WithLogger(logger)), logger)
	r := chi.NewRouter()
	h.Register(r)
	r.Route("/admin", h.RegisterAdmin)
	return r, noms, n.ID
}

func TestResults(t *testing.T) {
	router, _, id := setup(t)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/results"))
	testutil.AssertStatusOK(t, rr)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	results := testutil.UnmarshalResponse[models.Results](t, rr)
	assert.Equal(t, 1, results.Turnout.Ballots)
	require.NotEmpty(t, results.Positions[0].Candidates)
	assert.Equal(t, id, results.Positions[0].Candidates[0].NominationID)
	assert.Equal(t, 100, results.Positions[0].Candidates[0].Percentage)
	assert.NotEmpty(t, results.LedgerDigest)
}

func TestReconcile(t *testing.T) {
	router, noms, id := setup(t)
	require.NoError(t, noms.SetVotes(context.Background(), map[domain.NominationID]int64{id: 5}))

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/admin/reconcile"))
	testutil.AssertStatusOK(t, rr)
	report := testutil.UnmarshalResponse[models.Report](t, rr)
	require.Len(t, report.Drift, 1)
	assert.False(t, report.Repair)

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/admin/reconcile?repair=true"))
	testutil.AssertStatusOK(t, rr)
	report = testutil.UnmarshalResponse[models.Report](t, rr)
	assert.Equal(t, 1, report.Repaired)

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/admin/reconcile?repair=maybe"))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertFieldError(t, rr, "repair")
}
