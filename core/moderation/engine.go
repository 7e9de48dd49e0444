package moderation

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const (
	failClosedTimeout   = "timeout"
	failClosedMalformed = "malformed"

	// budget of the flag insert once the classifier has answered
	flagWriteTimeout = 5 * time.Second
)

// Moderate classifies nc.Text and persists a Flag for anything that is not plainly allowed.
// A classifier timeout, the caller's deadline included, or a malformed verdict fails closed to
// review. An unreachable classifier or a cancelled caller is returned as a ClassifierError and
// nothing is persisted.
func (svc *Service) Moderate(ctx context.Context, nc NewContent) (Result, error) {
	nc.Clean()
	if err := svc.validate.Struct(nc); err != nil {
		return Result{}, err
	}

	cls, failReason, err := svc.classify(ctx, nc.Text)
	if err != nil {
		return Result{}, err
	}
	failClosed := failReason != ""

	verdict := cls.Verdict
	if !failClosed {
		if adv := ActionFor(cls.Verdict); cls.Action != "" && cls.Action != adv {
			svc.logger.Warn("classifier action does not match its verdict", map[string]interface{}{
				"verdict": cls.Verdict,
				"action":  cls.Action,
				"applied": adv,
			})
		}
		if verdict == VerdictAllowed && svc.exceedsThreshold(cls.Categories) {
			verdict = VerdictReview
		}
	}

	action := ActionFor(verdict)
	moderationDecisions.WithLabelValues(string(verdict), string(action)).Inc()
	if action == ActionNone {
		return Result{Visibility: VisibilityVisible, Verdict: verdict, Action: action}, nil
	}

	// the flag is written even when the caller's deadline is what failed the classification
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flagWriteTimeout)
	defer cancel()
	flag, err := svc.repo.CreateFlag(wctx, Flag{
		ID:         svc.newID(),
		ContentRef: nc.ContentRef,
		Verdict:    verdict,
		Categories: cls.Categories,
		Score:      cls.Score,
		Action:     action,
		Status:     FlagOpen,
		FailClosed: failClosed,
		CreatedAt:  svc.now(),
	})
	if err != nil {
		return Result{}, &PersistenceError{Op: "flag", Err: err}
	}

	return Result{
		Visibility: flag.Visibility(),
		FlagID:     flag.ID,
		Verdict:    verdict,
		Action:     action,
		FailClosed: failClosed,
	}, nil
}

// classify calls the classifier once under the configured deadline.
// A non-empty reason means the returned Classification is the fail-closed review verdict.
func (svc *Service) classify(ctx context.Context, text string) (Classification, string, error) {
	cctx, cancel := context.WithTimeout(ctx, svc.conf.AI.ClassifierTimeout)
	defer cancel()

	start := time.Now()
	cls, err := svc.classifier.Classify(cctx, text)
	classifierDuration.Observe(time.Since(start).Seconds())

	var reason string
	switch {
	case err == nil && cls.IsWellFormed():
		if cls.Categories == nil {
			cls.Categories = map[string]float64{}
		}
		return cls, "", nil
	case err == nil, errors.Is(err, ErrMalformedVerdict):
		reason = failClosedMalformed
	case errors.Is(ctx.Err(), context.Canceled):
		return Classification{}, "", &ClassifierError{Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(cctx.Err(), context.DeadlineExceeded):
		reason = failClosedTimeout
	default:
		return Classification{}, "", &ClassifierError{Err: err}
	}

	moderationFailClosed.WithLabelValues(reason).Inc()
	svc.logger.Warn("classifier failed, moderating to review", map[string]interface{}{"reason": reason, "err": err})
	return Classification{
		Verdict:    VerdictReview,
		Categories: map[string]float64{},
		Action:     ActionFlag,
	}, reason, nil
}

// exceedsThreshold reports whether any category reaches the review threshold.
func (svc *Service) exceedsThreshold(categories map[string]float64) bool {
	threshold := svc.conf.Moderation.CategoryReviewThreshold
	if threshold <= 0 {
		return false
	}
	for _, score := range categories {
		if score >= threshold {
			return true
		}
	}
	return false
}
