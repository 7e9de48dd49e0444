package moderation

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/kinga/core"
)

var (
	decisionTag  = "decision"
	decisionText = "decision must be one of: uphold, overturn"

	orderingFields = map[string]bool{"created_at": true, "score": true, "resolved_at": true}
	orderingText   = "invalid ordering field"
)

// InitValidators registers the moderation validators and their messages.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(decisionTag, decisionValidation)
	core.RegisterCustomTranslation(validate, translator, decisionTag, decisionText)
}

// decisionValidation checks that a Decision is uphold or overturn.
func decisionValidation(fl validator.FieldLevel) bool {
	switch d := fl.Field().Interface().(type) {
	case Decision:
		return d.IsValid()
	case string:
		return Decision(d).IsValid()
	}
	return false
}

func validateOrdering(ordering []core.DBOrdering) error {
	for _, ord := range ordering {
		if !orderingFields[ord.Field] {
			return core.NewValidationError(nil, core.FieldError{Field: "ordering", Error: orderingText + ": " + ord.Field})
		}
	}
	return nil
}
