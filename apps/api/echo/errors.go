package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/core/autoreply"
	"github.com/trezcool/kinga/core/moderation"
)

var (
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errHttpForbidden = echo.NewHTTPError(http.StatusForbidden, "permission denied")

	msgClassifierUnavailable = "content classifier unavailable, please retry later"
	msgReplyUnavailable      = "auto-reply unavailable"
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			code = http.StatusBadRequest
			message = core.TranslateValidationErrors(origErr, translator)
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		default:
			code, message = domainError(err)
			if message != nil {
				if code >= http.StatusInternalServerError {
					logger.Warn(message.(string), err, contextPerson(ctx))
				}
				break
			}

			// any other error is a server error
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			logger.Error(msg, errors.Wrap(err, msg), contextPerson(ctx))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

// domainError maps moderation & auto-reply errors to a status code and a public message.
func domainError(err error) (int, interface{}) {
	switch {
	case moderation.IsDuplicateAppealError(err):
		return http.StatusConflict, "you have already appealed this flag"
	case errors.Is(err, moderation.ErrAppealInProgress):
		return http.StatusConflict, moderation.ErrAppealInProgress.Error()
	case errors.Is(err, moderation.ErrFlagResolved):
		return http.StatusConflict, moderation.ErrFlagResolved.Error()
	case errors.Is(err, moderation.ErrFlagNotFound):
		return http.StatusNotFound, moderation.ErrFlagNotFound.Error()
	case errors.Is(err, moderation.ErrUnauthenticated):
		return http.StatusUnauthorized, moderation.ErrUnauthenticated.Error()
	case errors.Is(err, moderation.ErrForbidden):
		return http.StatusForbidden, moderation.ErrForbidden.Error()
	case moderation.IsClassifierError(err):
		return http.StatusInternalServerError, msgClassifierUnavailable
	case autoreply.IsGenerationError(err):
		return http.StatusBadGateway, msgReplyUnavailable
	}
	return http.StatusInternalServerError, nil
}

func contextPerson(ctx echo.Context) core.Person {
	if claims, err := getContextClaims(ctx); err == nil {
		return claims.Person()
	}
	return core.Person{}
}
