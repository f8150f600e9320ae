package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	ballotmodels "hustings/internal/ballot/models"
	ballotmemory "hustings/internal/ballot/store/memory"
	nommodels "hustings/internal/nomination/models"
	nommemory "hustings/internal/nomination/store/memory"
	"hustings/internal/platform/metrics"
	"hustings/pkg/domain"
	"hustings/pkg/platform/audit"
	auditmemory "hustings/pkg/platform/audit/store/memory"
	"hustings/pkg/platform/sentinel"
)

type ReconcilerSuite struct {
	suite.Suite
	ctx         context.Context
	nominations *nommemory.InMemory
	ledger      *ballotmemory.InMemory
	events      *auditmemory.InMemoryStore
	metrics     *metrics.Metrics
	reconciler  *Reconciler
	candidate   domain.NominationID
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	s.ctx = context.Background()
	s.nominations = nommemory.NewInMemory()
	s.ledger = ballotmemory.New(s.nominations)
	s.events = auditmemory.NewInMemoryStore()
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	s.reconciler = New(s.ledger,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithAuditPublisher(s.events),
	)

	n, err := nommodels.NewNomination(domain.NewNominationID(),
		nommodels.Nominee{FirstName: "John", Surname: "Smith", Organization: "Company X", Position: domain.PositionPresident},
		nommodels.Nominator{FirstName: "John", Surname: "Smith", SelfNominated: true},
		"token", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.nominations.Create(s.ctx, n))
	s.candidate = n.ID

	for _, email := range []string{"a@union.org", "b@union.org"} {
		b, err := ballotmodels.NewBallot(domain.NewBallotID(), ballotmodels.Draft{
			VoterEmail:     email,
			VoterName:      "Voter",
			Selections:     map[domain.Position]domain.NominationID{domain.PositionPresident: n.ID},
			IdempotencyKey: email,
		}, "", "", time.Now())
		s.Require().NoError(err)
		s.Require().NoError(s.ledger.Commit(s.ctx, b))
	}
}

func (s *ReconcilerSuite) votes() int64 {
	counters, err := s.nominations.Counters(s.ctx)
	s.Require().NoError(err)
	return counters[s.candidate]
}

func (s *ReconcilerSuite) TestCleanPass() {
	report, err := s.reconciler.Run(s.ctx, true)
	s.Require().NoError(err)
	s.Empty(report.Drift)
	s.Zero(report.Repaired)

	events, err := s.events.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Empty(events)
}

// Justification: a counter that disagrees with the ballot log is reported
// and, only in repair mode, rewritten from the log.
func (s *ReconcilerSuite) TestDriftIsReportedThenRepaired() {
	s.Require().NoError(s.nominations.SetVotes(s.ctx, map[domain.NominationID]int64{s.candidate: 1}))

	report, err := s.reconciler.Run(s.ctx, false)
	s.Require().NoError(err)
	s.Require().Len(report.Drift, 1)
	s.Equal(int64(1), report.Drift[0].Counter)
	s.Equal(int64(2), report.Drift[0].Recount)
	s.Zero(report.Repaired)
	s.Equal(int64(1), s.votes(), "report-only pass leaves counters alone")
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.TallyDrift))

	report, err = s.reconciler.Run(s.ctx, true)
	s.Require().NoError(err)
	s.Equal(1, report.Repaired)
	s.Equal(int64(2), s.votes())
	s.Equal(float64(0), testutil.ToFloat64(s.metrics.TallyDrift))

	detected, err := s.events.ListByType(s.ctx, audit.EventTallyDriftDetected)
	s.Require().NoError(err)
	s.Len(detected, 2)
	repaired, err := s.events.ListByType(s.ctx, audit.EventTallyRepaired)
	s.Require().NoError(err)
	s.Require().Len(repaired, 1)
	s.Equal("reconciler", repaired[0].Actor)
}

func (s *ReconcilerSuite) TestTransientDriftIsNotReported() {
	flaky := &flakyLedger{Ledger: s.ledger, first: ballotmodels.TallySnapshot{
		Counters: map[domain.NominationID]int64{s.candidate: 1},
		Recount:  map[domain.NominationID]int64{s.candidate: 2},
	}}
	r := New(flaky, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	report, err := r.Run(s.ctx, true)
	s.Require().NoError(err)
	s.Empty(report.Drift)
	s.Zero(report.Repaired)
}

func (s *ReconcilerSuite) TestLedgerFailure() {
	r := New(&flakyLedger{Ledger: s.ledger, err: sentinel.ErrUnavailable},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := r.Run(s.ctx, false)
	s.True(errors.Is(err, sentinel.ErrUnavailable))
}

// flakyLedger returns first from its first Tally call, or err from every
// call, and defers to the wrapped ledger otherwise.
type flakyLedger struct {
	Ledger
	first ballotmodels.TallySnapshot
	err   error
	calls int
}

func (f *flakyLedger) Tally(ctx context.Context) (ballotmodels.TallySnapshot, error) {
	f.calls++
	if f.err != nil {
		return ballotmodels.TallySnapshot{}, f.err
	}
	if f.calls == 1 && f.first.Counters != nil {
		return f.first, nil
	}
	return f.Ledger.Tally(ctx)
}
