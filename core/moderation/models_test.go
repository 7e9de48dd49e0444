package moderation

import "testing"

func TestFlag_Visibility(t *testing.T) {
	tests := []struct {
		name string
		flag Flag
		want Visibility
	}{
		{name: "open blocked", flag: Flag{Status: FlagOpen, Action: ActionBlockAndFlag}, want: VisibilityHidden},
		{name: "open flagged", flag: Flag{Status: FlagOpen, Action: ActionFlag}, want: VisibilityQueued},
		{name: "overturned", flag: Flag{Status: FlagResolved, Action: ActionBlockAndFlag, Decision: DecisionOverturn}, want: VisibilityVisible},
		{name: "upheld block", flag: Flag{Status: FlagResolved, Action: ActionBlockAndFlag, Decision: DecisionUphold}, want: VisibilityHidden},
		{name: "upheld flag", flag: Flag{Status: FlagResolved, Action: ActionFlag, Decision: DecisionUphold}, want: VisibilityHidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.flag.Visibility(); got != tt.want {
				t.Errorf("Visibility() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestActionFor(t *testing.T) {
	tests := []struct {
		verdict Verdict
		want    Action
	}{
		{verdict: VerdictAllowed, want: ActionNone},
		{verdict: VerdictReview, want: ActionFlag},
		{verdict: VerdictBlocked, want: ActionBlockAndFlag},
		{verdict: "unknown", want: ActionFlag},
	}
	for _, tt := range tests {
		t.Run(string(tt.verdict), func(t *testing.T) {
			if got := ActionFor(tt.verdict); got != tt.want {
				t.Errorf("ActionFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassification_IsWellFormed(t *testing.T) {
	tests := []struct {
		name string
		cls  Classification
		want bool
	}{
		{name: "ok", cls: Classification{Verdict: VerdictBlocked, Score: 0.92, Categories: map[string]float64{"insult": 1}}, want: true},
		{name: "no categories", cls: Classification{Verdict: VerdictAllowed}, want: true},
		{name: "unknown verdict", cls: Classification{Verdict: "nsfw", Score: 0.5}},
		{name: "negative score", cls: Classification{Verdict: VerdictReview, Score: -0.01}},
		{name: "category out of range", cls: Classification{Verdict: VerdictReview, Categories: map[string]float64{"spam": 1.01}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cls.IsWellFormed(); got != tt.want {
				t.Errorf("IsWellFormed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecision_AppealStatus(t *testing.T) {
	if got := DecisionOverturn.AppealStatus(); got != AppealApproved {
		t.Errorf("overturn AppealStatus() = %v, want %v", got, AppealApproved)
	}
	if got := DecisionUphold.AppealStatus(); got != AppealRejected {
		t.Errorf("uphold AppealStatus() = %v, want %v", got, AppealRejected)
	}
}
