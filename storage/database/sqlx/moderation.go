package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/core/moderation"
	"github.com/trezcool/kinga/storage/database"
)

const (
	flagColumns   = "id, content_ref, verdict, categories, score, action, status, fail_closed, decision, resolved_by, created_at, resolved_at"
	appealColumns = "id, user_id, flag_id, reason, status, created_at, resolved_at"
)

var flagOrderColumns = map[string]string{
	"created_at":  "created_at",
	"score":       "score",
	"resolved_at": "resolved_at",
}

type (
	flagRow struct {
		ID         string      `db:"id"`
		ContentRef null.String `db:"content_ref"`
		Verdict    string      `db:"verdict"`
		Categories null.JSON   `db:"categories"`
		Score      float64     `db:"score"`
		Action     string      `db:"action"`
		Status     string      `db:"status"`
		FailClosed bool        `db:"fail_closed"`
		Decision   null.String `db:"decision"`
		ResolvedBy null.String `db:"resolved_by"`
		CreatedAt  time.Time   `db:"created_at"`
		ResolvedAt null.Time   `db:"resolved_at"`
	}

	appealRow struct {
		ID         string      `db:"id"`
		UserID     string      `db:"user_id"`
		FlagID     string      `db:"flag_id"`
		Reason     null.String `db:"reason"`
		Status     string      `db:"status"`
		CreatedAt  time.Time   `db:"created_at"`
		ResolvedAt null.Time   `db:"resolved_at"`
	}
)

type moderationRepository struct {
	exec core.DBExecutor
}

var _ moderation.Repository = (*moderationRepository)(nil) // interface compliance check

func NewModerationRepository(exec core.DBExecutor) *moderationRepository {
	return &moderationRepository{exec: exec}
}

func (repo moderationRepository) dumpFlag(f moderation.Flag) (flagRow, error) {
	cats := f.Categories
	if cats == nil {
		cats = map[string]float64{}
	}
	raw, err := json.Marshal(cats)
	if err != nil {
		return flagRow{}, errors.Wrap(err, "encoding categories")
	}
	return flagRow{
		ID:         f.ID,
		ContentRef: null.NewString(f.ContentRef, f.ContentRef != ""),
		Verdict:    string(f.Verdict),
		Categories: null.JSONFrom(raw),
		Score:      f.Score,
		Action:     string(f.Action),
		Status:     string(f.Status),
		FailClosed: f.FailClosed,
		Decision:   null.NewString(string(f.Decision), f.Decision != ""),
		ResolvedBy: null.NewString(f.ResolvedBy, f.ResolvedBy != ""),
		CreatedAt:  f.CreatedAt.UTC(),
		ResolvedAt: null.NewTime(f.ResolvedAt.UTC(), !f.ResolvedAt.IsZero()),
	}, nil
}

func (repo moderationRepository) loadFlag(row flagRow) (moderation.Flag, error) {
	cats := make(map[string]float64)
	if row.Categories.Valid && len(row.Categories.JSON) > 0 {
		if err := json.Unmarshal(row.Categories.JSON, &cats); err != nil {
			return moderation.Flag{}, errors.Wrap(err, "decoding categories")
		}
	}
	flag := moderation.Flag{
		ID:         row.ID,
		ContentRef: row.ContentRef.String,
		Verdict:    moderation.Verdict(row.Verdict),
		Categories: cats,
		Score:      row.Score,
		Action:     moderation.Action(row.Action),
		Status:     moderation.FlagStatus(row.Status),
		FailClosed: row.FailClosed,
		Decision:   moderation.Decision(row.Decision.String),
		ResolvedBy: row.ResolvedBy.String,
		CreatedAt:  row.CreatedAt.UTC(),
	}
	if row.ResolvedAt.Valid {
		flag.ResolvedAt = row.ResolvedAt.Time.UTC()
	}
	return flag, nil
}

func (repo moderationRepository) dumpAppeal(a moderation.Appeal) appealRow {
	return appealRow{
		ID:         a.ID,
		UserID:     a.UserID,
		FlagID:     a.FlagID,
		Reason:     null.NewString(a.Reason, a.Reason != ""),
		Status:     string(a.Status),
		CreatedAt:  a.CreatedAt.UTC(),
		ResolvedAt: null.NewTime(a.ResolvedAt.UTC(), !a.ResolvedAt.IsZero()),
	}
}

func (repo moderationRepository) loadAppeal(row appealRow) moderation.Appeal {
	appeal := moderation.Appeal{
		ID:        row.ID,
		UserID:    row.UserID,
		FlagID:    row.FlagID,
		Reason:    row.Reason.String,
		Status:    moderation.AppealStatus(row.Status),
		CreatedAt: row.CreatedAt.UTC(),
	}
	if row.ResolvedAt.Valid {
		appeal.ResolvedAt = row.ResolvedAt.Time.UTC()
	}
	return appeal
}

// trapNoRowsErr maps psql "no rows" err to moderation.ErrFlagNotFound
func (repo moderationRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return moderation.ErrFlagNotFound
	}
	return errors.Wrap(err, msg)
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (repo moderationRepository) CreateFlag(ctx context.Context, flag moderation.Flag) (moderation.Flag, error) {
	row, err := repo.dumpFlag(flag)
	if err != nil {
		return moderation.Flag{}, err
	}
	q := `INSERT INTO flags (` + flagColumns + `) VALUES (:id, :content_ref, :verdict, :categories, :score, :action, :status,
		:fail_closed, :decision, :resolved_by, :created_at, :resolved_at)`
	if _, err = sqlx.NamedExecContext(ctx, repo.exec, q, row); err != nil {
		if database.IsUniqueViolation(err) {
			return moderation.Flag{}, errors.Wrapf(err, "flag %s already exists", flag.ID)
		}
		return moderation.Flag{}, errors.Wrap(err, "inserting flag")
	}
	return repo.loadFlag(row)
}

func (repo moderationRepository) GetFlag(ctx context.Context, id string) (moderation.Flag, error) {
	if !isUUID(id) {
		return moderation.Flag{}, moderation.ErrFlagNotFound
	}
	var row flagRow
	q := repo.exec.Rebind(`SELECT ` + flagColumns + ` FROM flags WHERE id = ?`)
	if err := sqlx.GetContext(ctx, repo.exec, &row, q, id); err != nil {
		return moderation.Flag{}, repo.trapNoRowsErr(err, "finding flag by ID")
	}
	return repo.loadFlag(row)
}

func (repo moderationRepository) QueryFlags(ctx context.Context, filter moderation.FlagFilter, ordering ...core.DBOrdering) ([]moderation.Flag, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.Verdict != "" {
		where = append(where, "verdict = ?")
		args = append(args, string(filter.Verdict))
	}
	if !filter.CreatedFrom.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.CreatedFrom.UTC())
	}
	if !filter.CreatedTo.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, filter.CreatedTo.UTC())
	}

	q := `SELECT ` + flagColumns + ` FROM flags`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	orderList := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		col, ok := flagOrderColumns[ord.Field]
		if !ok {
			return nil, errors.Errorf("unknown ordering field %q", ord.Field)
		}
		orderList = append(orderList, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	orderList = append(orderList, "id ASC")
	q += " ORDER BY " + strings.Join(orderList, ", ")

	var rows []flagRow
	if err := sqlx.SelectContext(ctx, repo.exec, &rows, repo.exec.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying flags")
	}
	flags := make([]moderation.Flag, 0, len(rows))
	for _, row := range rows {
		flag, err := repo.loadFlag(row)
		if err != nil {
			return nil, err
		}
		flags = append(flags, flag)
	}
	return flags, nil
}

func (repo moderationRepository) ResolveFlag(ctx context.Context, flag moderation.Flag) (moderation.Flag, error) {
	if !isUUID(flag.ID) {
		return moderation.Flag{}, moderation.ErrFlagNotFound
	}
	row, err := repo.dumpFlag(flag)
	if err != nil {
		return moderation.Flag{}, err
	}
	q := `UPDATE flags SET status = :status, decision = :decision, resolved_by = :resolved_by, resolved_at = :resolved_at
		WHERE id = :id AND status = 'open'`
	res, err := sqlx.NamedExecContext(ctx, repo.exec, q, row)
	if err != nil {
		return moderation.Flag{}, errors.Wrap(err, "resolving flag")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return moderation.Flag{}, errors.Wrap(err, "resolving flag")
	}
	if n == 0 {
		// either gone or already resolved
		if _, err := repo.GetFlag(ctx, flag.ID); err != nil {
			return moderation.Flag{}, err
		}
		return moderation.Flag{}, moderation.ErrFlagResolved
	}
	return repo.GetFlag(ctx, flag.ID)
}

func (repo moderationRepository) CreateAppeal(ctx context.Context, appeal moderation.Appeal) (moderation.Appeal, error) {
	row := repo.dumpAppeal(appeal)
	q := `INSERT INTO appeals (` + appealColumns + `) VALUES (:id, :user_id, :flag_id, :reason, :status, :created_at, :resolved_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.exec, q, row); err != nil {
		if database.IsUniqueViolation(err) {
			return moderation.Appeal{}, errors.Wrapf(err, "appeal %s already exists", appeal.ID)
		}
		return moderation.Appeal{}, errors.Wrap(err, "inserting appeal")
	}
	return repo.loadAppeal(row), nil
}

func (repo moderationRepository) QueryAppeals(ctx context.Context, filter moderation.AppealFilter) ([]moderation.Appeal, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.FlagID != "" {
		if !isUUID(filter.FlagID) {
			return []moderation.Appeal{}, nil
		}
		where = append(where, "flag_id = ?")
		args = append(args, filter.FlagID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	q := `SELECT ` + appealColumns + ` FROM appeals`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at ASC, id ASC"

	var rows []appealRow
	if err := sqlx.SelectContext(ctx, repo.exec, &rows, repo.exec.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying appeals")
	}
	appeals := make([]moderation.Appeal, 0, len(rows))
	for _, row := range rows {
		appeals = append(appeals, repo.loadAppeal(row))
	}
	return appeals, nil
}

func (repo moderationRepository) ResolveAppeal(ctx context.Context, appeal moderation.Appeal) (bool, error) {
	row := repo.dumpAppeal(appeal)
	q := `UPDATE appeals SET status = :status, resolved_at = :resolved_at WHERE id = :id AND status = 'pending'`
	res, err := sqlx.NamedExecContext(ctx, repo.exec, q, row)
	if err != nil {
		return false, errors.Wrap(err, "resolving appeal")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "resolving appeal")
	}
	return n == 1, nil
}

func (repo moderationRepository) DeleteAppealsByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`DELETE FROM appeals WHERE id IN (?)`, ids)
	if err != nil {
		return errors.Wrap(err, "building delete query")
	}
	if _, err = repo.exec.ExecContext(ctx, repo.exec.Rebind(q), args...); err != nil {
		return errors.Wrap(err, "deleting appeals")
	}
	return nil
}
