package moderation

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/kinga/core"
)

// maximum concurrent appeal updates per resolution
const resolveConcurrency = 4

// Resolve applies an administrator's decision to a Flag and to its pending Appeals.
// Resolving an already resolved Flag returns the prior decision.
//
// The flag is claimed first with a conditional write, so concurrent resolutions agree on a
// single decision. Pending appeals then follow the stored decision; a failure there is
// finished by the next Resolve call on the same flag.
func (svc *Service) Resolve(ctx context.Context, rf ResolveFlag) (Resolution, error) {
	rf.Clean()
	if rf.ActorID == "" {
		return Resolution{}, ErrUnauthenticated
	}
	if err := svc.validate.Struct(rf); err != nil {
		return Resolution{}, err
	}
	if err := svc.authorize(ctx, rf.ActorID); err != nil {
		return Resolution{}, err
	}

	flag, err := svc.repo.GetFlag(ctx, rf.FlagID)
	if err != nil {
		return Resolution{}, err
	}

	claimed := false
	if !flag.IsResolved() {
		if flag, claimed, err = svc.claimFlag(ctx, flag, rf); err != nil {
			return Resolution{}, err
		}
	}

	resolved, err := svc.resolvePendingAppeals(ctx, flag)
	if err != nil {
		return Resolution{}, err
	}
	if claimed {
		flagsResolved.WithLabelValues(string(flag.Decision)).Inc()
	}
	return newResolution(flag, resolved), nil
}

// claimFlag resolves an open flag with rf. When another resolution got there first,
// the stored flag is returned with claimed set to false.
func (svc *Service) claimFlag(ctx context.Context, flag Flag, rf ResolveFlag) (_ Flag, claimed bool, err error) {
	flag.Status = FlagResolved
	flag.Decision = rf.Decision
	flag.ResolvedBy = rf.ActorID
	flag.ResolvedAt = svc.now()

	stored, err := svc.repo.ResolveFlag(ctx, flag)
	switch {
	case err == nil:
		return stored, true, nil
	case errors.Is(err, ErrFlagResolved):
		if stored, err = svc.repo.GetFlag(ctx, flag.ID); err != nil {
			return Flag{}, false, err
		}
		svc.logger.Info("flag resolved concurrently, keeping the stored decision", map[string]interface{}{
			"flag_id":   flag.ID,
			"requested": rf.Decision,
			"stored":    stored.Decision,
		}, core.Person{ID: rf.ActorID})
		return stored, false, nil
	default:
		return Flag{}, false, &PersistenceError{Op: "flag", Err: err}
	}
}

// resolvePendingAppeals applies the flag's decision to its pending appeals and returns how
// many of them this call moved out of pending.
func (svc *Service) resolvePendingAppeals(ctx context.Context, flag Flag) (int, error) {
	pending, err := svc.repo.QueryAppeals(ctx, AppealFilter{FlagID: flag.ID, Status: AppealPending})
	if err != nil {
		return 0, errors.Wrap(err, "querying pending appeals")
	}

	var resolved int32
	now := svc.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for _, appeal := range pending {
		appeal.Status = flag.Decision.AppealStatus()
		appeal.ResolvedAt = now
		g.Go(func() error {
			ok, err := svc.repo.ResolveAppeal(gctx, appeal)
			if err != nil {
				return &PersistenceError{Op: "appeal " + appeal.ID, Err: err}
			}
			if ok {
				atomic.AddInt32(&resolved, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return int(resolved), nil
}

func newResolution(flag Flag, appeals int) Resolution {
	return Resolution{
		FlagID:          flag.ID,
		Status:          flag.Status,
		Decision:        flag.Decision,
		Visibility:      flag.Visibility(),
		AppealsResolved: appeals,
	}
}

func (svc *Service) authorize(ctx context.Context, actorID string) error {
	ok, err := svc.authz.CanResolve(ctx, actorID)
	if err != nil {
		return errors.Wrap(err, "checking resolve permission")
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// QueryFlags lists flags for the Review Queue, newest first unless ordering says otherwise.
func (svc *Service) QueryFlags(ctx context.Context, filter FlagFilter, ordering ...core.DBOrdering) ([]Flag, error) {
	filter.Clean()
	if err := svc.validate.Struct(filter); err != nil {
		return nil, err
	}
	if err := validateOrdering(ordering); err != nil {
		return nil, err
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	return svc.repo.QueryFlags(ctx, filter, ordering...)
}

// CollapseDuplicateAppeals keeps the earliest appeal of each user on a flag and deletes the others.
// It returns the number of deleted appeals.
func (svc *Service) CollapseDuplicateAppeals(ctx context.Context, actorID, flagID string) (int, error) {
	actorID = core.CleanString(actorID)
	if actorID == "" {
		return 0, ErrUnauthenticated
	}
	if err := svc.authorize(ctx, actorID); err != nil {
		return 0, err
	}
	flag, err := svc.GetFlag(ctx, flagID)
	if err != nil {
		return 0, err
	}

	appeals, err := svc.repo.QueryAppeals(ctx, AppealFilter{FlagID: flag.ID})
	if err != nil {
		return 0, errors.Wrap(err, "querying appeals")
	}
	sort.SliceStable(appeals, func(i, j int) bool { return appeals[i].CreatedAt.Before(appeals[j].CreatedAt) })

	seen := make(map[string]bool, len(appeals))
	dupes := make([]string, 0)
	for _, appeal := range appeals {
		if seen[appeal.UserID] {
			dupes = append(dupes, appeal.ID)
			continue
		}
		seen[appeal.UserID] = true
	}
	if len(dupes) == 0 {
		return 0, nil
	}

	if err := svc.repo.DeleteAppealsByID(ctx, dupes...); err != nil {
		return 0, &PersistenceError{Op: "appeals", Err: err}
	}
	svc.logger.Info("collapsed duplicate appeals", map[string]interface{}{
		"flag_id": flag.ID,
		"deleted": dupes,
	}, core.Person{ID: actorID})
	return len(dupes), nil
}
