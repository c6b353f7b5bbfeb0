package authority

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ied-sentinel/internal/authority/domain"
	"ied-sentinel/internal/authority/repository"
	ieddomain "ied-sentinel/internal/ied/domain"
	telemetrydomain "ied-sentinel/internal/telemetry/domain"
)

// Seed sets the allowed list to ids and records an initial valid entry at
// stNum 0 for every id that names a device role. It does nothing and returns
// false when an allowed list already exists.
func Seed(ctx context.Context, repo repository.Repository, ids []string, now time.Time) (bool, error) {
	existing, err := repo.ListIDs(ctx)
	if err != nil {
		return false, fmt.Errorf("seed: list ids: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}
	if len(ids) == 0 {
		return false, ErrInvalidIDs
	}
	if err := repo.ReplaceIDs(ctx, ids); err != nil {
		return false, fmt.Errorf("seed: ids: %w", err)
	}
	for _, id := range ids {
		role, err := ieddomain.ParseRole(id)
		if err != nil {
			continue
		}
		rec := telemetrydomain.NewRecord(telemetrydomain.KindStandard, ieddomain.VerdictValid, role.DefaultStatus(), 0, now)
		rec.ID = uuid.New().String()
		rec.DeviceID = string(role)
		rec.CreatedAt = now.UTC()
		e := domain.Entry{Record: rec, BookkeepingLatency: telemetrydomain.NotApplicable}
		if err := repo.SaveEntry(ctx, &e); err != nil {
			return false, fmt.Errorf("seed: initial state of %s: %w", id, err)
		}
	}
	return true, nil
}
