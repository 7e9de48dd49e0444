package sqlxrepos

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/core/moderation"
	"github.com/trezcool/kinga/storage/database"
)

// prepareDB connects to KINGA_TEST_DATABASE_URL, migrates it and empties the tables.
func prepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("KINGA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("KINGA_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.OpenURL(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(db.DB))
	_, err = db.ExecContext(ctx, "TRUNCATE appeals, flags")
	require.NoError(t, err)
	return db
}

func newFlag(verdict moderation.Verdict, createdAt time.Time) moderation.Flag {
	return moderation.Flag{
		ID:         uuid.NewString(),
		ContentRef: "msg-1",
		Verdict:    verdict,
		Categories: map[string]float64{"insult": 0.92},
		Score:      0.92,
		Action:     moderation.ActionFor(verdict),
		Status:     moderation.FlagOpen,
		CreatedAt:  createdAt.UTC().Truncate(time.Microsecond),
	}
}

func TestModerationRepository_flags(t *testing.T) {
	ctx := context.Background()
	repo := NewModerationRepository(prepareDB(t))
	now := time.Now().UTC()

	blocked, err := repo.CreateFlag(ctx, newFlag(moderation.VerdictBlocked, now.Add(-time.Hour)))
	require.NoError(t, err)
	review, err := repo.CreateFlag(ctx, newFlag(moderation.VerdictReview, now))
	require.NoError(t, err)

	got, err := repo.GetFlag(ctx, blocked.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(blocked, got); diff != "" {
		t.Errorf("GetFlag() mismatch (-want +got):\n%s", diff)
	}

	_, err = repo.GetFlag(ctx, "not-a-uuid")
	assert.Equal(t, moderation.ErrFlagNotFound, err)
	_, err = repo.GetFlag(ctx, uuid.NewString())
	assert.Equal(t, moderation.ErrFlagNotFound, err)

	flags, err := repo.QueryFlags(ctx, moderation.FlagFilter{Verdict: moderation.VerdictReview})
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, review.ID, flags[0].ID)

	flags, err = repo.QueryFlags(ctx, moderation.FlagFilter{}, core.DBOrdering{Field: "created_at"})
	require.NoError(t, err)
	require.Len(t, flags, 2)
	assert.Equal(t, review.ID, flags[0].ID)

	blocked.Status = moderation.FlagResolved
	blocked.Decision = moderation.DecisionOverturn
	blocked.ResolvedBy = "admin-1"
	blocked.ResolvedAt = now.Truncate(time.Microsecond)
	resolved, err := repo.ResolveFlag(ctx, blocked)
	require.NoError(t, err)
	if diff := cmp.Diff(blocked, resolved); diff != "" {
		t.Errorf("ResolveFlag() mismatch (-want +got):\n%s", diff)
	}

	// a second resolution never overwrites the first
	blocked.Decision = moderation.DecisionUphold
	_, err = repo.ResolveFlag(ctx, blocked)
	assert.Equal(t, moderation.ErrFlagResolved, err)
	got, err = repo.GetFlag(ctx, blocked.ID)
	require.NoError(t, err)
	assert.Equal(t, moderation.DecisionOverturn, got.Decision)

	_, err = repo.ResolveFlag(ctx, newFlag(moderation.VerdictReview, now))
	assert.Equal(t, moderation.ErrFlagNotFound, err)
}

func TestModerationRepository_appeals(t *testing.T) {
	ctx := context.Background()
	repo := NewModerationRepository(prepareDB(t))
	now := time.Now().UTC().Truncate(time.Microsecond)

	flag, err := repo.CreateFlag(ctx, newFlag(moderation.VerdictBlocked, now))
	require.NoError(t, err)

	create := func(userID string, createdAt time.Time) moderation.Appeal {
		a, err := repo.CreateAppeal(ctx, moderation.Appeal{
			ID:        uuid.NewString(),
			UserID:    userID,
			FlagID:    flag.ID,
			Reason:    "please",
			Status:    moderation.AppealPending,
			CreatedAt: createdAt,
		})
		require.NoError(t, err)
		return a
	}
	first := create("u1", now.Add(-2*time.Minute))
	dupe := create("u1", now.Add(-time.Minute))
	other := create("u2", now)

	appeals, err := repo.QueryAppeals(ctx, moderation.AppealFilter{FlagID: flag.ID, UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, appeals, 2)
	assert.Equal(t, first.ID, appeals[0].ID)

	appeals, err = repo.QueryAppeals(ctx, moderation.AppealFilter{FlagID: "nope"})
	require.NoError(t, err)
	assert.Empty(t, appeals)

	other.Status = moderation.AppealApproved
	other.ResolvedAt = now
	ok, err := repo.ResolveAppeal(ctx, other)
	require.NoError(t, err)
	assert.True(t, ok)
	other.Status = moderation.AppealRejected
	ok, err = repo.ResolveAppeal(ctx, other)
	require.NoError(t, err)
	assert.False(t, ok, "an appeal leaves pending once")
	other.Status = moderation.AppealApproved
	pending, err := repo.QueryAppeals(ctx, moderation.AppealFilter{FlagID: flag.ID, Status: moderation.AppealPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, repo.DeleteAppealsByID(ctx, dupe.ID))
	appeals, err = repo.QueryAppeals(ctx, moderation.AppealFilter{FlagID: flag.ID})
	require.NoError(t, err)
	if diff := cmp.Diff([]moderation.Appeal{first, other}, appeals); diff != "" {
		t.Errorf("QueryAppeals() mismatch (-want +got):\n%s", diff)
	}
}
