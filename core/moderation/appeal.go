package moderation

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/kinga/core"
)

// FileAppeal records a user's request to re-examine a Flag. A user may appeal a Flag once.
//
// The duplicate check is a read before the write. Two concurrent submissions for the same
// (user, flag) pair can both pass it; CollapseDuplicateAppeals cleans those up. The optional
// AppealGuard narrows that window: it is held while the appeal is being stored, and a
// submission finding it held gets ErrAppealInProgress unless the appeal is already stored.
func (svc *Service) FileAppeal(ctx context.Context, na NewAppeal) (Appeal, error) {
	na.Clean()
	if na.UserID == "" {
		return Appeal{}, ErrUnauthenticated
	}
	if err := svc.validate.Struct(na); err != nil {
		return Appeal{}, err
	}

	flag, err := svc.repo.GetFlag(ctx, na.FlagID)
	if err != nil {
		return Appeal{}, err
	}
	if flag.IsResolved() {
		return Appeal{}, ErrFlagResolved
	}

	switch svc.lockAppeal(ctx, na.UserID, na.FlagID) {
	case lockHeld:
		if err := svc.checkDuplicate(ctx, na); err != nil {
			return Appeal{}, err
		}
		svc.logger.Info("appeal guard held, no appeal stored yet", map[string]interface{}{"flag_id": na.FlagID}, core.Person{ID: na.UserID})
		return Appeal{}, ErrAppealInProgress
	case lockAcquired:
		defer svc.unlockAppeal(context.WithoutCancel(ctx), na.UserID, na.FlagID)
	}

	if err := svc.checkDuplicate(ctx, na); err != nil {
		return Appeal{}, err
	}
	appeal, err := svc.createAppeal(ctx, na)
	if err != nil {
		return Appeal{}, err
	}

	appealsFiled.Inc()
	svc.notifyModerators(appeal)
	return appeal, nil
}

// checkDuplicate returns a DuplicateAppealError when the user already appealed the flag.
func (svc *Service) checkDuplicate(ctx context.Context, na NewAppeal) error {
	existing, err := svc.repo.QueryAppeals(ctx, AppealFilter{UserID: na.UserID, FlagID: na.FlagID})
	if err != nil {
		return errors.Wrap(err, "querying appeals")
	}
	if len(existing) > 0 {
		appealsDuplicate.Inc()
		return &DuplicateAppealError{UserID: na.UserID, FlagID: na.FlagID, AppealID: existing[0].ID}
	}
	return nil
}

func (svc *Service) createAppeal(ctx context.Context, na NewAppeal) (Appeal, error) {
	appeal, err := svc.repo.CreateAppeal(ctx, Appeal{
		ID:        svc.newID(),
		UserID:    na.UserID,
		FlagID:    na.FlagID,
		Reason:    na.Reason,
		Status:    AppealPending,
		CreatedAt: svc.now(),
	})
	if err != nil {
		return Appeal{}, &PersistenceError{Op: "appeal", Err: err}
	}
	return appeal, nil
}

type lockState int

const (
	lockSkipped lockState = iota // no guard, or the guard failed
	lockAcquired
	lockHeld
)

// lockAppeal is best effort: guard errors are logged and the repository check still runs.
// An acquired lock lives until the appeal is stored, or for the guard's TTL after a crash.
func (svc *Service) lockAppeal(ctx context.Context, userID, flagID string) lockState {
	if svc.guard == nil {
		return lockSkipped
	}
	ok, err := svc.guard.Acquire(ctx, userID, flagID)
	if err != nil {
		svc.logger.Warn("appeal guard unavailable", err, core.Person{ID: userID})
		return lockSkipped
	}
	if !ok {
		return lockHeld
	}
	return lockAcquired
}

func (svc *Service) unlockAppeal(ctx context.Context, userID, flagID string) {
	if err := svc.guard.Release(ctx, userID, flagID); err != nil {
		svc.logger.Warn("releasing appeal guard", err, core.Person{ID: userID})
	}
}

func (svc *Service) notifyModerators(appeal Appeal) {
	if svc.mailSvc == nil || len(svc.conf.Moderation.ModeratorEmails) == 0 {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           svc.conf.Moderation.ModeratorEmails,
		Subject:      fmt.Sprintf("New appeal on flag %s", appeal.FlagID),
		TemplateName: "appeal_filed",
		TemplateData: map[string]string{
			"FlagID":   appeal.FlagID,
			"AppealID": appeal.ID,
			"UserID":   appeal.UserID,
			"Reason":   appeal.Reason,
		},
	})
}
