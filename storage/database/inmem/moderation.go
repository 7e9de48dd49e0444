package inmemdb

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/core/moderation"
)

type moderationRepository struct {
	flags   *flagTable
	appeals *appealTable
}

var _ moderation.Repository = (*moderationRepository)(nil) // interface compliance check

func NewModerationRepository(db *DB) *moderationRepository {
	return &moderationRepository{flags: db.flags, appeals: db.appeals}
}

func copyFlag(f moderation.Flag) moderation.Flag {
	cats := make(map[string]float64, len(f.Categories))
	for k, v := range f.Categories {
		cats[k] = v
	}
	f.Categories = cats
	return f
}

func (repo *moderationRepository) CreateFlag(_ context.Context, flag moderation.Flag) (moderation.Flag, error) {
	repo.flags.mutex.Lock()
	defer repo.flags.mutex.Unlock()

	if _, ok := repo.flags.table[flag.ID]; ok || flag.ID == "" {
		return moderation.Flag{}, errors.Errorf("inserting flag: invalid or duplicate id %q", flag.ID)
	}
	f := copyFlag(flag)
	repo.flags.table[f.ID] = &f
	return copyFlag(f), nil
}

func (repo *moderationRepository) GetFlag(_ context.Context, id string) (moderation.Flag, error) {
	repo.flags.mutex.RLock()
	defer repo.flags.mutex.RUnlock()

	if f, ok := repo.flags.table[id]; ok {
		return copyFlag(*f), nil
	}
	return moderation.Flag{}, moderation.ErrFlagNotFound
}

func (repo *moderationRepository) QueryFlags(_ context.Context, filter moderation.FlagFilter, ordering ...core.DBOrdering) ([]moderation.Flag, error) {
	repo.flags.mutex.RLock()
	defer repo.flags.mutex.RUnlock()

	flags := make([]moderation.Flag, 0, len(repo.flags.table))
	for _, f := range repo.flags.table {
		if filter.Match(*f) {
			flags = append(flags, copyFlag(*f))
		}
	}

	// stable base order, then each ordering from the last to the first
	sort.Slice(flags, func(i, j int) bool { return flags[i].ID < flags[j].ID })
	for k := len(ordering) - 1; k >= 0; k-- {
		ord := ordering[k]
		sort.SliceStable(flags, func(i, j int) bool {
			less, greater := compareFlags(flags[i], flags[j], ord.Field)
			if ord.Ascending {
				return less
			}
			return greater
		})
	}
	return flags, nil
}

func compareFlags(a, b moderation.Flag, field string) (less, greater bool) {
	switch field {
	case "score":
		return a.Score < b.Score, a.Score > b.Score
	case "resolved_at":
		return a.ResolvedAt.Before(b.ResolvedAt), a.ResolvedAt.After(b.ResolvedAt)
	default:
		return a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.After(b.CreatedAt)
	}
}

func (repo *moderationRepository) ResolveFlag(_ context.Context, flag moderation.Flag) (moderation.Flag, error) {
	repo.flags.mutex.Lock()
	defer repo.flags.mutex.Unlock()

	f, ok := repo.flags.table[flag.ID]
	if !ok {
		return moderation.Flag{}, moderation.ErrFlagNotFound
	}
	if f.IsResolved() {
		return moderation.Flag{}, moderation.ErrFlagResolved
	}
	f.Status = flag.Status
	f.Decision = flag.Decision
	f.ResolvedBy = flag.ResolvedBy
	f.ResolvedAt = flag.ResolvedAt
	return copyFlag(*f), nil
}

func (repo *moderationRepository) CreateAppeal(_ context.Context, appeal moderation.Appeal) (moderation.Appeal, error) {
	repo.appeals.mutex.Lock()
	defer repo.appeals.mutex.Unlock()

	if _, ok := repo.appeals.table[appeal.ID]; ok || appeal.ID == "" {
		return moderation.Appeal{}, errors.Errorf("inserting appeal: invalid or duplicate id %q", appeal.ID)
	}
	repo.appeals.table[appeal.ID] = &appeal
	return appeal, nil
}

func (repo *moderationRepository) QueryAppeals(_ context.Context, filter moderation.AppealFilter) ([]moderation.Appeal, error) {
	repo.appeals.mutex.RLock()
	defer repo.appeals.mutex.RUnlock()

	appeals := make([]moderation.Appeal, 0)
	for _, a := range repo.appeals.table {
		if filter.Match(*a) {
			appeals = append(appeals, *a)
		}
	}
	sort.Slice(appeals, func(i, j int) bool {
		if appeals[i].CreatedAt.Equal(appeals[j].CreatedAt) {
			return appeals[i].ID < appeals[j].ID
		}
		return appeals[i].CreatedAt.Before(appeals[j].CreatedAt)
	})
	return appeals, nil
}

func (repo *moderationRepository) ResolveAppeal(_ context.Context, appeal moderation.Appeal) (bool, error) {
	repo.appeals.mutex.Lock()
	defer repo.appeals.mutex.Unlock()

	a, ok := repo.appeals.table[appeal.ID]
	if !ok {
		return false, errors.Errorf("resolving appeal: %q not found", appeal.ID)
	}
	if a.Status != moderation.AppealPending {
		return false, nil
	}
	a.Status = appeal.Status
	a.ResolvedAt = appeal.ResolvedAt
	return true, nil
}

func (repo *moderationRepository) DeleteAppealsByID(_ context.Context, ids ...string) error {
	repo.appeals.mutex.Lock()
	defer repo.appeals.mutex.Unlock()

	for _, id := range ids {
		delete(repo.appeals.table, id)
	}
	return nil
}
