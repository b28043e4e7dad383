package provisioning

import (
	"context"
	"errors"
	"time"

	"github.com/minipay/onboarding/internal/documents"
	apierrors "github.com/minipay/onboarding/internal/errors"
	"github.com/minipay/onboarding/internal/identity"
	"github.com/minipay/onboarding/internal/logger"
)

// DefaultOrphanMinAge skips identities young enough to be mid-provisioning.
const DefaultOrphanMinAge = 5 * time.Minute

// OrphanQuery bounds an orphan scan.
type OrphanQuery struct {
	Limit  int
	MinAge time.Duration
}

// ListOrphans returns identities that have no profile document in the staff
// or user collections. These are left behind when compensation itself
// failed and need manual cleanup.
func (o *Orchestrator) ListOrphans(ctx context.Context, q OrphanQuery) ([]Orphan, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.MinAge <= 0 {
		q.MinAge = o.orphanAge
	}
	cutoff := time.Now().Add(-q.MinAge)

	var orphans []Orphan
	after := ""
	const pageSize = 200
	for len(orphans) < q.Limit {
		page, err := o.identity.ListIdentities(ctx, after, pageSize)
		if err != nil {
			return nil, unavailable(err)
		}
		for _, id := range page {
			if id.CreatedAt.After(cutoff) {
				continue
			}
			orphan, err := o.isOrphan(ctx, id.ID)
			if err != nil {
				return nil, err
			}
			if orphan {
				orphans = append(orphans, Orphan{ID: id.ID, Email: id.Email, CreatedAt: id.CreatedAt})
				if len(orphans) == q.Limit {
					break
				}
			}
		}
		if len(page) < pageSize {
			break
		}
		after = page[len(page)-1].ID
	}
	return orphans, nil
}

// DeleteOrphan removes an orphaned identity after re-checking that it still
// has no profile. Identities younger than the configured minimum age are
// refused: their provisioning sequence may still be writing the profile.
func (o *Orchestrator) DeleteOrphan(ctx context.Context, id string) error {
	ident, err := o.identity.GetIdentity(ctx, id)
	if errors.Is(err, identity.ErrNotFound) {
		return apierrors.New(apierrors.ErrCodeNotFound, "identity not found")
	}
	if err != nil {
		return unavailable(err)
	}
	if time.Since(ident.CreatedAt) < o.orphanAge {
		return apierrors.New(apierrors.ErrCodeFailedPrecondition, "identity is too recent to be treated as an orphan")
	}

	orphan, err := o.isOrphan(ctx, id)
	if err != nil {
		return err
	}
	if !orphan {
		return apierrors.New(apierrors.ErrCodeFailedPrecondition, "identity has a profile and is not an orphan")
	}
	if err := o.identity.DeleteIdentity(ctx, id); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return apierrors.New(apierrors.ErrCodeNotFound, "identity not found")
		}
		return unavailable(err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("principal_id", id).Msg("provisioning.orphan_deleted")
	return nil
}

func (o *Orchestrator) isOrphan(ctx context.Context, id string) (bool, error) {
	for _, collection := range []string{o.collections.Staffs, o.collections.Users} {
		_, err := o.docs.Get(ctx, collection, id)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, documents.ErrNotFound) {
			return false, unavailable(err)
		}
	}
	return true, nil
}
