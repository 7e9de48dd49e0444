package echoapi

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/core/moderation"
)

const (
	orderingParam    = "ordering"
	createdFromParam = "created_from"
	createdToParam   = "created_to"
)

// bindFlagQuery reads the flag listing query string: `status`, `action` & `verdict` filters,
// an RFC3339 `created_from`/`created_to` range and `?ordering=-created_at,score`.
func bindFlagQuery(ctx echo.Context) (moderation.FlagFilter, []core.DBOrdering, error) {
	var filter moderation.FlagFilter
	if err := ctx.Bind(&filter); err != nil {
		return filter, nil, errors.Wrap(err, "binding to FlagFilter")
	}

	var fldErrs []core.FieldError
	for param, dst := range map[string]*time.Time{
		createdFromParam: &filter.CreatedFrom,
		createdToParam:   &filter.CreatedTo,
	} {
		val := ctx.QueryParam(param)
		if val == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, val)
		if err != nil {
			fldErrs = append(fldErrs, core.FieldError{Field: param, Error: "must be an RFC3339 timestamp"})
			continue
		}
		*dst = t.UTC()
	}
	if fldErrs != nil {
		return filter, nil, core.NewValidationError(nil, fldErrs...)
	}

	return filter, core.ParseOrdering(ctx.QueryParam(orderingParam)), nil
}
