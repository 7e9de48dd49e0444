package moderation

import (
	"time"

	"github.com/trezcool/kinga/core"
)

type Verdict string

const (
	VerdictAllowed Verdict = "allowed"
	VerdictBlocked Verdict = "blocked"
	VerdictReview  Verdict = "review"
)

func (v Verdict) IsValid() bool {
	switch v {
	case VerdictAllowed, VerdictBlocked, VerdictReview:
		return true
	}
	return false
}

type Action string

const (
	ActionNone         Action = "none"
	ActionFlag         Action = "flag"
	ActionBlockAndFlag Action = "block_and_flag"
)

// ActionFor returns the action a verdict commands. Unknown verdicts get the review action.
func ActionFor(v Verdict) Action {
	switch v {
	case VerdictAllowed:
		return ActionNone
	case VerdictBlocked:
		return ActionBlockAndFlag
	default:
		return ActionFlag
	}
}

type FlagStatus string

const (
	FlagOpen     FlagStatus = "open"
	FlagResolved FlagStatus = "resolved"
)

type AppealStatus string

const (
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealRejected AppealStatus = "rejected"
)

type Decision string

const (
	DecisionUphold   Decision = "uphold"
	DecisionOverturn Decision = "overturn"
)

func (d Decision) IsValid() bool {
	return d == DecisionUphold || d == DecisionOverturn
}

// AppealStatus is the status pending appeals take when a flag is resolved with d.
func (d Decision) AppealStatus() AppealStatus {
	if d == DecisionOverturn {
		return AppealApproved
	}
	return AppealRejected
}

type Visibility string

const (
	VisibilityVisible Visibility = "visible"
	VisibilityHidden  Visibility = "hidden"
	VisibilityQueued  Visibility = "queued"
)

// Flag is the persisted record of a moderation decision that restricts visibility and/or awaits review.
type Flag struct {
	ID         string             `json:"id"`
	ContentRef string             `json:"content_ref,omitempty"`
	Verdict    Verdict            `json:"verdict"`
	Categories map[string]float64 `json:"categories"`
	Score      float64            `json:"score"`
	Action     Action             `json:"action"`
	Status     FlagStatus         `json:"status"`
	FailClosed bool               `json:"fail_closed"`
	Decision   Decision           `json:"decision,omitempty"`
	ResolvedBy string             `json:"resolved_by,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`  // UTC
	ResolvedAt time.Time          `json:"resolved_at"` // UTC, zero while open
}

func (f Flag) IsResolved() bool { return f.Status == FlagResolved }

// Visibility derives the current visibility of the flagged content.
func (f Flag) Visibility() Visibility {
	if f.IsResolved() {
		if f.Decision == DecisionOverturn {
			return VisibilityVisible
		}
		return VisibilityHidden
	}
	if f.Action == ActionBlockAndFlag {
		return VisibilityHidden
	}
	return VisibilityQueued
}

type Appeal struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	FlagID     string       `json:"flag_id"`
	Reason     string       `json:"reason,omitempty"`
	Status     AppealStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`  // UTC
	ResolvedAt time.Time    `json:"resolved_at"` // UTC, zero while pending
}

// Classification is the structured verdict returned by a Classifier.
type Classification struct {
	Verdict    Verdict            `json:"verdict"`
	Categories map[string]float64 `json:"categories"`
	Score      float64            `json:"score"`
	Action     Action             `json:"action"`
}

// IsWellFormed reports whether the verdict is known and every score lies in [0,1].
func (c Classification) IsWellFormed() bool {
	if !c.Verdict.IsValid() || !inUnitRange(c.Score) {
		return false
	}
	for _, s := range c.Categories {
		if !inUnitRange(s) {
			return false
		}
	}
	return true
}

func inUnitRange(f float64) bool { return f >= 0 && f <= 1 }

// NewContent is the user submitted text to moderate.
type NewContent struct {
	Text       string `json:"text" validate:"required,notblank"`
	ContentRef string `json:"content_ref" validate:"omitempty,max=255"`
}

func (nc *NewContent) Clean() {
	nc.Text = core.CleanString(nc.Text)
	nc.ContentRef = core.CleanString(nc.ContentRef)
}

// Result is what the Moderation Engine returns to the caller.
type Result struct {
	Visibility Visibility `json:"visibility"`
	FlagID     string     `json:"flag_id,omitempty"`
	Verdict    Verdict    `json:"verdict"`
	Action     Action     `json:"action"`
	FailClosed bool       `json:"-"`
}

// NewAppeal contains information needed to file an Appeal. UserID comes from the authenticated caller.
type NewAppeal struct {
	UserID string `json:"-"`
	FlagID string `json:"flag_id" validate:"required,notblank"`
	Reason string `json:"reason" validate:"omitempty,max=1000"`
}

func (na *NewAppeal) Clean() {
	na.UserID = core.CleanString(na.UserID)
	na.FlagID = core.CleanString(na.FlagID)
	na.Reason = core.CleanString(na.Reason)
}

// ResolveFlag is an administrator's decision on a Flag.
type ResolveFlag struct {
	ActorID  string   `json:"-"`
	FlagID   string   `json:"flag_id" validate:"required,notblank"`
	Decision Decision `json:"decision" validate:"required,decision"`
}

func (rf *ResolveFlag) Clean() {
	rf.ActorID = core.CleanString(rf.ActorID)
	rf.FlagID = core.CleanString(rf.FlagID)
	rf.Decision = Decision(core.CleanString(string(rf.Decision), true /* lower */))
}

type Resolution struct {
	FlagID          string     `json:"flag_id"`
	Status          FlagStatus `json:"status"`
	Decision        Decision   `json:"decision"`
	Visibility      Visibility `json:"visibility"`
	AppealsResolved int        `json:"appeals_resolved"`
}

type FlagFilter struct {
	Status      FlagStatus `query:"status" validate:"omitempty,oneof=open resolved"`
	Action      Action     `query:"action" validate:"omitempty,oneof=flag block_and_flag"`
	Verdict     Verdict    `query:"verdict" validate:"omitempty,oneof=allowed blocked review"`
	CreatedFrom time.Time  `query:"-"` // bound from RFC3339 `created_from` by the API
	CreatedTo   time.Time  `query:"-"` // bound from RFC3339 `created_to` by the API
}

func (ff *FlagFilter) IsEmpty() bool {
	return ff.Status == "" && ff.Action == "" && ff.Verdict == "" && ff.CreatedFrom.IsZero() && ff.CreatedTo.IsZero()
}

func (ff *FlagFilter) Clean() {
	ff.Status = FlagStatus(core.CleanString(string(ff.Status), true /* lower */))
	ff.Action = Action(core.CleanString(string(ff.Action), true /* lower */))
	ff.Verdict = Verdict(core.CleanString(string(ff.Verdict), true /* lower */))
}

// Match applies AND on every non-empty field.
func (ff FlagFilter) Match(f Flag) bool {
	if ff.Status != "" && f.Status != ff.Status {
		return false
	}
	if ff.Action != "" && f.Action != ff.Action {
		return false
	}
	if ff.Verdict != "" && f.Verdict != ff.Verdict {
		return false
	}
	if !ff.CreatedFrom.IsZero() && f.CreatedAt.Before(ff.CreatedFrom) {
		return false
	}
	if !ff.CreatedTo.IsZero() && f.CreatedAt.After(ff.CreatedTo) {
		return false
	}
	return true
}

// AppealFilter applies AND on every non-empty field.
type AppealFilter struct {
	UserID string       `query:"user_id"`
	FlagID string       `query:"flag_id"`
	Status AppealStatus `query:"status" validate:"omitempty,oneof=pending approved rejected"`
}

func (af AppealFilter) Match(a Appeal) bool {
	return (af.UserID == "" || a.UserID == af.UserID) &&
		(af.FlagID == "" || a.FlagID == af.FlagID) &&
		(af.Status == "" || a.Status == af.Status)
}
