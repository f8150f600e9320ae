package candidate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hustings/internal/nomination/models"
	"hustings/internal/nomination/service"
	"hustings/internal/nomination/store/memory"
	"hustings/pkg/domain"
)

var base = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func nomination(first, surname, org string, p domain.Position, st models.Status, acc models.Acceptance, age time.Duration) *models.Nomination {
	return &models.Nomination{
		ID:               domain.NewNominationID(),
		Nominee:          models.Nominee{FirstName: first, Surname: surname, Organization: org, Position: p},
		Status:           st,
		AcceptanceStatus: acc,
		SubmittedAt:      base.Add(-age),
	}
}

func TestProjectEligibility(t *testing.T) {
	var noms []*models.Nomination
	for _, st := range []models.Status{models.StatusPending, models.StatusApproved, models.StatusRejected} {
		for _, acc := range []models.Acceptance{models.AcceptancePending, models.AcceptanceAccepted, models.AcceptanceDenied} {
			noms = append(noms, nomination(string(st), string(acc), "Org", domain.PositionPresident, st, acc, 0))
		}
	}

	slate := Project(noms)
	got := slate.ForPosition(domain.PositionPresident)
	require.Len(t, got, 1, "only approved and accepted nominations appear")
	assert.Equal(t, "approved", got[0].FirstName)
	assert.Equal(t, "Accepted", got[0].Surname)
}

func TestProjectGroupsAndOrder(t *testing.T) {
	older := nomination("Ann", "Lee", "Org A", domain.PositionTreasurer, models.StatusApproved, models.AcceptanceAccepted, 2*time.Hour)
	newer := nomination("Bea", "Ng", "Org B", domain.PositionTreasurer, models.StatusApproved, models.AcceptanceAccepted, time.Hour)

	slate := Project([]*models.Nomination{older, newer})
	require.Len(t, slate.Groups, len(domain.AllPositions()))
	assert.Equal(t, domain.PositionPresident, slate.Groups[0].Position)
	assert.Empty(t, slate.Groups[0].Candidates)
	assert.NotNil(t, slate.Groups[0].Candidates)

	treasurers := slate.ForPosition(domain.PositionTreasurer)
	require.Len(t, treasurers, 2)
	assert.Equal(t, newer.ID, treasurers[0].NominationID)

	_, ok := slate.Find(domain.PositionTreasurer, older.ID)
	assert.True(t, ok)
	_, ok = slate.Find(domain.PositionPresident, older.ID)
	assert.False(t, ok, "a candidate is only selectable for their own position")

	assert.Equal(t, Project([]*models.Nomination{newer, older}), slate, "order of input does not matter")
}

func TestProjectAlsoContesting(t *testing.T) {
	pres := nomination("John", "Smith", "Company X", domain.PositionPresident, models.StatusApproved, models.AcceptanceAccepted, 0)
	treas := nomination("  JOHN", "smith ", "company x", domain.PositionTreasurer, models.StatusApproved, models.AcceptanceAccepted, 0)
	ineligible := nomination("John", "Smith", "Company X", domain.PositionGeneralSecretary, models.StatusPending, models.AcceptanceAccepted, 0)
	namesake := nomination("John", "Smith", "Company Y", domain.PositionDeputyTreasurer, models.StatusApproved, models.AcceptanceAccepted, 0)

	slate := Project([]*models.Nomination{pres, treas, ineligible, namesake})

	p := slate.ForPosition(domain.PositionPresident)
	require.Len(t, p, 1)
	assert.Equal(t, []domain.Position{domain.PositionTreasurer}, p[0].AlsoContesting)

	d := slate.ForPosition(domain.PositionDeputyTreasurer)
	require.Len(t, d, 1)
	assert.Empty(t, d[0].AlsoContesting, "same name at another organization is someone else")
}

// Approving a self nomination puts it on the ballot.
func TestApprovedSelfNominationAppears(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemory()
	svc := service.New(store)

	n, err := svc.Create(ctx, &models.NominationRequest{
		NominatorFirstName: "John", NominatorSurname: "Smith", NominatorEmail: "john@example.com",
		NominatorPhone: "1", NominatorMembershipNumber: "M-1", SelfNomination: "self",
		PositionNominated: "president", FirstName: "John", Surname: "Smith",
		Email: "john@example.com", Phone: "1", JobTitle: "Officer", MembershipNumber: "M-1",
		CVBioText: "Bio",
	})
	require.NoError(t, err)

	all, err := svc.List(ctx, models.Filter{})
	require.NoError(t, err)
	assert.Empty(t, Project(all).ForPosition(domain.PositionPresident))

	_, err = svc.SetStatus(ctx, n.ID, models.StatusApproved)
	require.NoError(t, err)

	all, err = svc.List(ctx, models.Filter{})
	require.NoError(t, err)
	presidents := Project(all).ForPosition(domain.PositionPresident)
	require.Len(t, presidents, 1)
	assert.Equal(t, "John Smith", presidents[0].FullName)
}
