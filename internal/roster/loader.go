// Package roster loads the external voter roll. The roster is read-only to
// the election core; Load seeds a store from the uploaded JSON export.
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"hustings/internal/roster/models"
	"hustings/pkg/email"
)

// Writer is implemented by every roster store.
type Writer interface {
	Upsert(ctx context.Context, org models.Organization) error
}

// LoadFile reads a roster export from path into w.
func LoadFile(ctx context.Context, path string, w Writer) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()
	return Load(ctx, f, w)
}

// Load decodes a JSON array of organizations and upserts each one. Voters
// without a usable email are skipped; a missing name is derived from the
// address. Returns the number of voters written.
func Load(ctx context.Context, r io.Reader, w Writer) (int, error) {
	var orgs []models.Organization
	if err := json.NewDecoder(r).Decode(&orgs); err != nil {
		return 0, fmt.Errorf("decode roster: %w", err)
	}
	total := 0
	for _, org := range orgs {
		org.Name = strings.TrimSpace(org.Name)
		if org.Name == "" {
			continue
		}
		voters := make([]models.Voter, 0, len(org.Voters))
		for _, v := range org.Voters {
			v.Email = strings.TrimSpace(v.Email)
			if !email.Valid(v.Email) {
				continue
			}
			v.Name = strings.TrimSpace(v.Name)
			if v.Name == "" {
				v.Name = email.DeriveNameFromEmail(v.Email)
			}
			voters = append(voters, v)
		}
		org.Voters = voters
		if err := w.Upsert(ctx, org); err != nil {
			return total, fmt.Errorf("store roster organization %q: %w", org.Name, err)
		}
		total += len(voters)
	}
	return total, nil
}
