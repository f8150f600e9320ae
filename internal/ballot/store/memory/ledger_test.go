package memory

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
	nommodels "hustings/internal/nomination/models"
	nommemory "hustings/internal/nomination/store/memory"
	"hustings/pkg/domain"
	"hustings/pkg/platform/sentinel"
)

type LedgerSuite struct {
	suite.Suite
	ctx         context.Context
	nominations *nommemory.InMemory
	ledger      *InMemory
	candidate   domain.NominationID
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.ctx = context.Background()
	s.nominations = nommemory.NewInMemory()
	s.ledger = New(s.nominations)

	n, err := nommodels.NewNomination(domain.NewNominationID(),
		nommodels.Nominee{FirstName: "John", Surname: "Smith", Organization: "Company X", Position: domain.PositionPresident},
		nommodels.Nominator{FirstName: "John", Surname: "Smith", SelfNominated: true},
		"token", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.nominations.Create(s.ctx, n))
	s.candidate = n.ID
}

func (s *LedgerSuite) ballot(email, key string) *models.Ballot {
	b, err := models.NewBallot(domain.NewBallotID(), models.Draft{
		VoterEmail:     email,
		VoterName:      "Voter",
		Selections:     map[domain.Position]domain.NominationID{domain.PositionPresident: s.candidate},
		IdempotencyKey: key,
	}, "", "", time.Now())
	s.Require().NoError(err)
	return b
}

func (s *LedgerSuite) votes() int64 {
	counters, err := s.nominations.Counters(s.ctx)
	s.Require().NoError(err)
	return counters[s.candidate]
}

func (s *LedgerSuite) TestCommitCountsOnce() {
	b := s.ballot("jane@union.org", "k1")
	s.Require().NoError(s.ledger.Commit(s.ctx, b))
	s.Equal(int64(1), s.votes())

	s.Run("same ballot again is a no-op", func() {
		s.Require().NoError(s.ledger.Commit(s.ctx, b))
		s.Equal(int64(1), s.votes())
	})

	s.Run("email is unique regardless of case", func() {
		err := s.ledger.Commit(s.ctx, s.ballot("JANE@Union.org ", "k2"))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
		s.Equal(int64(1), s.votes())
	})

	s.Run("idempotency key is unique", func() {
		err := s.ledger.Commit(s.ctx, s.ballot("bob@union.org", "k1"))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("lookups", func() {
		byKey, err := s.ledger.FindByIdempotencyKey(s.ctx, "k1")
		s.Require().NoError(err)
		s.Equal(b.ID, byKey.ID)

		byEmail, err := s.ledger.FindByEmail(s.ctx, "Jane@Union.Org")
		s.Require().NoError(err)
		s.Equal(b.ID, byEmail.ID)
		s.Equal("jane@union.org", byEmail.VoterEmail)

		_, err = s.ledger.FindByEmail(s.ctx, "nobody@union.org")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *LedgerSuite) TestUnknownCandidateIsRefusedWhole() {
	b := s.ballot("jane@union.org", "k1")
	b.Selections[domain.PositionTreasurer] = domain.NewNominationID()

	err := s.ledger.Commit(s.ctx, b)
	s.ErrorIs(err, sentinel.ErrInvalidState)
	s.Zero(s.votes())

	_, err = s.ledger.FindByEmail(s.ctx, "jane@union.org")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// Justification: concurrent ballots for one candidate must never lose an
// increment.
func (s *LedgerSuite) TestConcurrentCommits() {
	const voters = 50
	var wg sync.WaitGroup
	var committed atomic.Int32
	for i := range voters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := s.ballot(fmt.Sprintf("voter%d@union.org", i), fmt.Sprintf("key-%d", i))
			if err := s.ledger.Commit(s.ctx, b); err == nil {
				committed.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(voters), committed.Load())
	s.Equal(int64(voters), s.votes())

	turnout, err := s.ledger.Turnout(s.ctx)
	s.Require().NoError(err)
	s.Equal(voters, turnout.Ballots)
	s.Equal(voters, turnout.ByPosition[domain.PositionPresident])
}

// Justification: only one of many simultaneous ballots from one voter may win.
func (s *LedgerSuite) TestConcurrentSameVoter() {
	var wg sync.WaitGroup
	var committed, refused atomic.Int32
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.ledger.Commit(s.ctx, s.ballot("jane@union.org", fmt.Sprintf("key-%d", i)))
			if err == nil {
				committed.Add(1)
			} else if errors.Is(err, sentinel.ErrAlreadyUsed) {
				refused.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), committed.Load())
	s.Equal(int32(19), refused.Load())
	s.Equal(int64(1), s.votes())
}

func (s *LedgerSuite) TestTallyAndRepair() {
	s.Require().NoError(s.ledger.Commit(s.ctx, s.ballot("a@union.org", "a")))
	s.Require().NoError(s.ledger.Commit(s.ctx, s.ballot("b@union.org", "b")))

	s.Require().NoError(s.nominations.SetVotes(s.ctx, map[domain.NominationID]int64{s.candidate: 7}))

	tally, err := s.ledger.Tally(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), tally.Recount[s.candidate])
	s.Equal(int64(7), tally.Counters[s.candidate])

	repaired, err := s.ledger.Repair(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, repaired)
	s.Equal(int64(2), s.votes())

	repaired, err = s.ledger.Repair(s.ctx)
	s.Require().NoError(err)
	s.Zero(repaired)

	ids, err := s.ledger.BallotIDs(s.ctx)
	s.Require().NoError(err)
	s.Len(ids, 2)
}
