//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"hustings/internal/ballot/models"
	ballotpostgres "hustings/internal/ballot/store/postgres"
	nommodels "hustings/internal/nomination/models"
	nompostgres "hustings/internal/nomination/store/postgres"
	"hustings/pkg/domain"
	auditpostgres "hustings/pkg/platform/audit/store/postgres"
	"hustings/pkg/platform/sentinel"
	"hustings/pkg/testutil/containers"
)

type LedgerSuite struct {
	suite.Suite
	postgres    *containers.PostgresContainer
	nominations *nompostgres.PostgresStore
	outbox      *auditpostgres.Store
	ledger      *ballotpostgres.PostgresLedger
	candidate   domain.NominationID
}

func TestLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.nominations = nompostgres.New(s.postgres.DB)
	s.outbox = auditpostgres.New(s.postgres.DB)
	s.ledger = ballotpostgres.New(s.postgres.DB, ballotpostgres.WithOutbox(s.outbox))
}

func (s *LedgerSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "ballot_selections", "ballots", "nominations", "audit_outbox"))
	s.candidate = s.eligibleCandidate(ctx, "John")
}

func (s *LedgerSuite) eligibleCandidate(ctx context.Context, first string) domain.NominationID {
	now := time.Now().UTC()
	n, err := nommodels.NewNomination(domain.NewNominationID(),
		nommodels.Nominee{FirstName: first, Surname: "Smith", Organization: "Company X", Position: domain.PositionPresident},
		nommodels.Nominator{FirstName: first, Surname: "Smith", SelfNominated: true},
		"tok-"+first, now)
	s.Require().NoError(err)
	s.Require().NoError(s.nominations.Create(ctx, n))
	s.Require().NoError(s.nominations.UpdateStatus(ctx, n.ID, nommodels.StatusPending, nommodels.StatusApproved, now))
	return n.ID
}

func (s *LedgerSuite) ballot(email, key string) *models.Ballot {
	b, err := models.NewBallot(domain.NewBallotID(), models.Draft{
		VoterEmail:      email,
		VoterName:       "Voter",
		VoterMembership: "UNITE-042",
		Selections:      map[domain.Position]domain.NominationID{domain.PositionPresident: s.candidate},
		IdempotencyKey:  key,
	}, "203.0.113.9", "curl/8.0", time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(err)
	return b
}

func (s *LedgerSuite) votes(ctx context.Context) int64 {
	n, err := s.nominations.FindByID(ctx, s.candidate)
	s.Require().NoError(err)
	return n.Votes
}

func (s *LedgerSuite) TestCommitIsAtomicWithOutbox() {
	ctx := context.Background()
	b := s.ballot("Jane@Union.org", "k1")
	s.Require().NoError(s.ledger.Commit(ctx, b))
	s.Equal(int64(1), s.votes(ctx))

	backlog, err := s.outbox.CountUnpublished(ctx)
	s.Require().NoError(err)
	s.Equal(1, backlog)

	found, err := s.ledger.FindByEmail(ctx, "jane@union.org")
	s.Require().NoError(err)
	s.Equal(b.ID, found.ID)
	s.Equal("Jane@Union.org", found.VoterEmail)
	s.Equal(b.Selections, found.Selections)

	s.Run("resumed commit of the same ballot is a no-op", func() {
		s.Require().NoError(s.ledger.Commit(ctx, b))
		s.Equal(int64(1), s.votes(ctx))
	})

	s.Run("second ballot for the same voter", func() {
		s.ErrorIs(s.ledger.Commit(ctx, s.ballot("jane@union.org", "k2")), sentinel.ErrAlreadyUsed)
		s.Equal(int64(1), s.votes(ctx))
	})
}

func (s *LedgerSuite) TestIneligibleCandidateRollsBack() {
	ctx := context.Background()
	now := time.Now().UTC()
	s.Require().NoError(s.nominations.UpdateStatus(ctx, s.candidate, nommodels.StatusApproved, nommodels.StatusRejected, now))

	err := s.ledger.Commit(ctx, s.ballot("jane@union.org", "k1"))
	s.ErrorIs(err, sentinel.ErrInvalidState)

	_, err = s.ledger.FindByEmail(ctx, "jane@union.org")
	s.ErrorIs(err, sentinel.ErrNotFound)
	backlog, err := s.outbox.CountUnpublished(ctx)
	s.Require().NoError(err)
	s.Zero(backlog)

	s.Run("unknown candidate", func() {
		b := s.ballot("bob@union.org", "k2")
		b.Selections[domain.PositionPresident] = domain.NewNominationID()
		s.ErrorIs(s.ledger.Commit(ctx, b), sentinel.ErrInvalidState)
	})
}

// Justification: the counter must equal the number of concurrent distinct
// ballots, and one voter racing themselves must land exactly one ballot.
func (s *LedgerSuite) TestConcurrentCommits() {
	ctx := context.Background()
	const voters = 20
	var wg sync.WaitGroup
	var committed, refused atomic.Int32
	for i := range voters {
		for attempt := range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b := s.ballot(fmt.Sprintf("voter%d@union.org", i), fmt.Sprintf("key-%d-%d", i, attempt))
				err := s.ledger.Commit(ctx, b)
				if err == nil {
					committed.Add(1)
				} else if errors.Is(err, sentinel.ErrAlreadyUsed) {
					refused.Add(1)
				}
			}()
		}
	}
	wg.Wait()

	s.Equal(int32(voters), committed.Load())
	s.Equal(int32(voters), refused.Load())
	s.Equal(int64(voters), s.votes(ctx))

	turnout, err := s.ledger.Turnout(ctx)
	s.Require().NoError(err)
	s.Equal(voters, turnout.Ballots)
	s.Equal(voters, turnout.Selections)
}

func (s *LedgerSuite) TestTallyAndRepair() {
	ctx := context.Background()
	s.Require().NoError(s.ledger.Commit(ctx, s.ballot("a@union.org", "a")))
	s.Require().NoError(s.ledger.Commit(ctx, s.ballot("b@union.org", "b")))
	_, err := s.postgres.DB.ExecContext(ctx, `UPDATE nominations SET votes = 9 WHERE id = $1`, s.candidate.String())
	s.Require().NoError(err)

	tally, err := s.ledger.Tally(ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), tally.Recount[s.candidate])
	s.Equal(int64(9), tally.Counters[s.candidate])

	repaired, err := s.ledger.Repair(ctx)
	s.Require().NoError(err)
	s.Equal(1, repaired)
	s.Equal(int64(2), s.votes(ctx))

	ballots, err := s.ledger.List(ctx)
	s.Require().NoError(err)
	s.Len(ballots, 2)
	ids, err := s.ledger.BallotIDs(ctx)
	s.Require().NoError(err)
	s.Len(ids, 2)
}
