package moderation_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kinga/core/moderation"
	"github.com/trezcool/kinga/tests"
)

func TestService_Moderate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name           string
		cls            moderation.Classifier
		threshold      float64
		wantVisibility moderation.Visibility
		wantVerdict    moderation.Verdict
		wantFlag       bool
		wantFailClosed bool
	}{
		{
			name:           "blocked is hidden",
			cls:            testutil.StaticClassifier(moderation.Classification{Verdict: "blocked", Score: 0.92, Action: "block_and_flag", Categories: map[string]float64{"insult": 0.92}}),
			threshold:      0.85,
			wantVisibility: moderation.VisibilityHidden,
			wantVerdict:    moderation.VerdictBlocked,
			wantFlag:       true,
		},
		{
			name:           "review is queued",
			cls:            testutil.StaticClassifier(moderation.Classification{Verdict: "review", Score: 0.6, Action: "flag"}),
			threshold:      0.85,
			wantVisibility: moderation.VisibilityQueued,
			wantVerdict:    moderation.VerdictReview,
			wantFlag:       true,
		},
		{
			name:           "allowed is visible",
			cls:            testutil.StaticClassifier(moderation.Classification{Verdict: "allowed", Score: 0.1, Action: "none", Categories: map[string]float64{"insult": 0.1}}),
			threshold:      0.85,
			wantVisibility: moderation.VisibilityVisible,
			wantVerdict:    moderation.VerdictAllowed,
		},
		{
			name:           "allowed with a category over threshold is escalated",
			cls:            testutil.StaticClassifier(moderation.Classification{Verdict: "allowed", Score: 0.2, Action: "none", Categories: map[string]float64{"harassment": 0.9}}),
			threshold:      0.85,
			wantVisibility: moderation.VisibilityQueued,
			wantVerdict:    moderation.VerdictReview,
			wantFlag:       true,
		},
		{
			name:           "escalation disabled",
			cls:            testutil.StaticClassifier(moderation.Classification{Verdict: "allowed", Score: 0.2, Action: "none", Categories: map[string]float64{"harassment": 0.9}}),
			wantVisibility: moderation.VisibilityVisible,
			wantVerdict:    moderation.VerdictAllowed,
		},
		{
			name:           "unknown verdict fails closed",
			cls:            testutil.StaticClassifier(moderation.Classification{Verdict: "maybe", Score: 0.5}),
			threshold:      0.85,
			wantVisibility: moderation.VisibilityQueued,
			wantVerdict:    moderation.VerdictReview,
			wantFlag:       true,
			wantFailClosed: true,
		},
		{
			name:           "score out of range fails closed",
			cls:            testutil.StaticClassifier(moderation.Classification{Verdict: "allowed", Score: 1.5}),
			threshold:      0.85,
			wantVisibility: moderation.VisibilityQueued,
			wantVerdict:    moderation.VerdictReview,
			wantFlag:       true,
			wantFailClosed: true,
		},
		{
			name: "unparsable answer fails closed",
			cls: moderation.ClassifierFunc(func(context.Context, string) (moderation.Classification, error) {
				return moderation.Classification{}, errors.Wrap(moderation.ErrMalformedVerdict, "decoding")
			}),
			threshold:      0.85,
			wantVisibility: moderation.VisibilityQueued,
			wantVerdict:    moderation.VerdictReview,
			wantFlag:       true,
			wantFailClosed: true,
		},
		{
			name: "timeout fails closed",
			cls: moderation.ClassifierFunc(func(ctx context.Context, _ string) (moderation.Classification, error) {
				<-ctx.Done()
				return moderation.Classification{}, ctx.Err()
			}),
			threshold:      0.85,
			wantVisibility: moderation.VisibilityQueued,
			wantVerdict:    moderation.VerdictReview,
			wantFlag:       true,
			wantFailClosed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := setup(t, tt.cls)
			fx.conf.Moderation.CategoryReviewThreshold = tt.threshold

			res, err := fx.svc.Moderate(ctx, moderation.NewContent{Text: "Tu es stupide", ContentRef: "msg-1"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantVisibility, res.Visibility)
			assert.Equal(t, tt.wantVerdict, res.Verdict)
			assert.Equal(t, tt.wantFailClosed, res.FailClosed)
			assert.EqualValues(t, 1, atomic.LoadInt32(fx.calls))

			flags, err := fx.svc.QueryFlags(ctx, moderation.FlagFilter{})
			require.NoError(t, err)
			if !tt.wantFlag {
				assert.Empty(t, res.FlagID)
				assert.Empty(t, flags)
				return
			}
			require.Len(t, flags, 1)
			flag := flags[0]
			assert.Equal(t, res.FlagID, flag.ID)
			assert.Equal(t, moderation.FlagOpen, flag.Status)
			assert.Equal(t, "msg-1", flag.ContentRef)
			assert.Equal(t, moderation.ActionFor(tt.wantVerdict), flag.Action)
			assert.Equal(t, tt.wantFailClosed, flag.FailClosed)
			assert.Equal(t, tt.wantVisibility, flag.Visibility())
		})
	}
}

func TestService_Moderate_storesClassification(t *testing.T) {
	cls := moderation.Classification{
		Verdict:    moderation.VerdictBlocked,
		Score:      0.92,
		Action:     moderation.ActionBlockAndFlag,
		Categories: map[string]float64{"insult": 0.92, "threat": 0.1},
	}
	fx := setup(t, testutil.StaticClassifier(cls))

	res, err := fx.svc.Moderate(context.Background(), moderation.NewContent{Text: "Tu es stupide"})
	require.NoError(t, err)

	flag, err := fx.svc.GetFlag(context.Background(), res.FlagID)
	require.NoError(t, err)
	if diff := cmp.Diff(cls.Categories, flag.Categories); diff != "" {
		t.Errorf("Moderate() categories mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0.92, flag.Score)
	assert.False(t, flag.CreatedAt.IsZero())
	assert.True(t, flag.ResolvedAt.IsZero())
}

func TestService_Moderate_errors(t *testing.T) {
	ctx := context.Background()
	blocked := testutil.StaticClassifier(moderation.Classification{Verdict: "blocked", Score: 0.92, Action: "block_and_flag"})

	t.Run("blank text", func(t *testing.T) {
		fx := setup(t, blocked)
		_, err := fx.svc.Moderate(ctx, moderation.NewContent{Text: "  \n "})
		require.Error(t, err)
		_, ok := err.(validator.ValidationErrors)
		assert.True(t, ok, "want validation errors, got %v", err)
		assert.EqualValues(t, 0, atomic.LoadInt32(fx.calls))
	})

	t.Run("classifier unreachable", func(t *testing.T) {
		fx := setup(t, moderation.ClassifierFunc(func(context.Context, string) (moderation.Classification, error) {
			return moderation.Classification{}, errors.New("dial tcp: connection refused")
		}))
		res, err := fx.svc.Moderate(ctx, moderation.NewContent{Text: "hello"})
		require.Error(t, err)
		assert.True(t, moderation.IsClassifierError(err))
		assert.NotEqual(t, moderation.VisibilityVisible, res.Visibility)

		flags, _ := fx.svc.QueryFlags(ctx, moderation.FlagFilter{})
		assert.Empty(t, flags)
	})

	t.Run("caller cancelled", func(t *testing.T) {
		fx := setup(t, moderation.ClassifierFunc(func(ctx context.Context, _ string) (moderation.Classification, error) {
			<-ctx.Done()
			return moderation.Classification{}, ctx.Err()
		}))
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := fx.svc.Moderate(cctx, moderation.NewContent{Text: "hello"})
		assert.True(t, moderation.IsClassifierError(err))
	})

	t.Run("caller deadline fails closed", func(t *testing.T) {
		fx := setup(t, moderation.ClassifierFunc(func(ctx context.Context, _ string) (moderation.Classification, error) {
			<-ctx.Done()
			return moderation.Classification{}, ctx.Err()
		}))
		fx.conf.AI.ClassifierTimeout = time.Minute
		dctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		res, err := fx.svc.Moderate(dctx, moderation.NewContent{Text: "hello"})
		require.NoError(t, err)
		assert.Equal(t, moderation.VisibilityQueued, res.Visibility)
		assert.True(t, res.FailClosed)

		flag, err := fx.svc.GetFlag(ctx, res.FlagID)
		require.NoError(t, err)
		assert.Equal(t, moderation.VerdictReview, flag.Verdict)
		assert.True(t, flag.FailClosed)
	})

	t.Run("flag not persisted", func(t *testing.T) {
		fx := setup(t, blocked)
		fx.repo.failCreateFlag = true
		res, err := fx.svc.Moderate(ctx, moderation.NewContent{Text: "Tu es stupide"})
		require.Error(t, err)
		assert.True(t, moderation.IsPersistenceError(err))
		assert.True(t, errors.Is(err, errStore))
		assert.Empty(t, res.Visibility)
	})
}

func TestService_Moderate_actionMismatch(t *testing.T) {
	fx := setup(t, testutil.StaticClassifier(moderation.Classification{Verdict: "blocked", Score: 0.9, Action: "none"}))

	res, err := fx.svc.Moderate(context.Background(), moderation.NewContent{Text: "Tu es stupide"})
	require.NoError(t, err)
	assert.Equal(t, moderation.ActionBlockAndFlag, res.Action)
	assert.Equal(t, moderation.VisibilityHidden, res.Visibility)
	assert.Len(t, fx.logger.Entries("warn"), 1)
}

// visible is only ever returned for an exact allowed verdict.
func TestService_Moderate_visibleOnlyWhenAllowed(t *testing.T) {
	verdicts := []moderation.Verdict{"allowed", "blocked", "review", "", "ALLOWED", "allow"}
	scores := []float64{0, 0.5, 0.86, 1, -0.1}
	for _, v := range verdicts {
		for _, s := range scores {
			t.Run(fmt.Sprintf("%s/%v", v, s), func(t *testing.T) {
				fx := setup(t, testutil.StaticClassifier(moderation.Classification{
					Verdict:    v,
					Score:      s,
					Categories: map[string]float64{"spam": s},
				}))
				res, err := fx.svc.Moderate(context.Background(), moderation.NewContent{Text: "text"})
				require.NoError(t, err)
				if res.Visibility == moderation.VisibilityVisible {
					assert.Equal(t, moderation.VerdictAllowed, v)
					assert.Empty(t, res.FlagID)
				} else {
					assert.NotEmpty(t, res.FlagID)
				}
			})
		}
	}
}
