package roster

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hustings/internal/roster/store/memory"
)

const exportJSON = `[
  {"organization": "UNITE-042", "status": "Approved", "voters": [
    {"name": "Jane Doe", "email": "jane@union.org"},
    {"name": "", "email": "sam.lee@union.org"},
    {"name": "No Email", "email": "not-an-email"}
  ]},
  {"organization": "GMB-007", "status": "Pending", "voters": [
    {"name": "Pat", "email": "pat@gmb.org"}
  ]},
  {"organization": "  ", "status": "Approved", "voters": []}
]`

func TestLoad(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	n, err := Load(ctx, strings.NewReader(exportJSON), store)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	voters, err := store.ListApproved(ctx)
	require.NoError(t, err)
	require.Len(t, voters, 2, "only approved organizations vote")
	assert.Equal(t, "UNITE-042", voters[0].Organization)
	assert.Equal(t, "Sam Lee", voters[1].Name)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	_, err := Load(context.Background(), strings.NewReader(`{"organization":`), memory.New())
	assert.Error(t, err)
}
