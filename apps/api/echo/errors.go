package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/class"
)

var (
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errHttpForbidden = echo.NewHTTPError(http.StatusForbidden, "permission denied")
)

// statusFor maps attendance/class errors to HTTP status codes.
// 0 means the error is not a known domain error.
func statusFor(err error) int {
	switch err {
	case attendance.ErrSessionNotFound, attendance.ErrRecordNotFound, class.ErrNotFound:
		return http.StatusNotFound
	case attendance.ErrNotClassOwner, attendance.ErrNotClassMember, attendance.ErrNotToday:
		return http.StatusForbidden
	case attendance.ErrSessionCompleted, attendance.ErrResetsExhausted,
		attendance.ErrSessionExists, attendance.ErrStaleSession, attendance.ErrSessionNotActive:
		return http.StatusConflict
	case attendance.ErrCodeExpired:
		return http.StatusGone
	case attendance.ErrManualOnly, attendance.ErrNotManualMode, attendance.ErrCodeMismatch:
		return http.StatusBadRequest
	}
	return 0
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		origErr := errors.Cause(err)
		if status := statusFor(origErr); status > 0 {
			code = status
			message = origErr.Error()
		} else {
			switch typedErr := origErr.(type) {
			case *echo.HTTPError:
				if typedErr == middleware.ErrJWTMissing {
					code = http.StatusUnauthorized
					message = typedErr.Message
					break
				}
				if typedErr.Internal != nil {
					if herr, ok := typedErr.Internal.(*echo.HTTPError); ok {
						typedErr = herr
					}
				}
				code = typedErr.Code
				message = typedErr.Message
			case validator.ValidationErrors:
				fldErrs := make(map[string]string, len(typedErr))
				for _, vErr := range typedErr {
					fldErrs[vErr.Field()] = vErr.Translate(translator)
				}
				code = http.StatusBadRequest
				message = fldErrs
			case *core.ValidationError:
				if typedErr.Fields != nil {
					fldErrs := make(map[string]string, len(typedErr.Fields))
					for _, fErr := range typedErr.Fields {
						fldErrs[fErr.Field] = fErr.Error
					}
					message = fldErrs
				} else {
					message = typedErr.Error()
				}
				code = http.StatusBadRequest
			case *core.ConflictError:
				code = http.StatusConflict
				message = typedErr.Error()
			default: // any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg

				var actor core.Actor
				if claims, cErr := getContextClaims(ctx); cErr == nil {
					actor.ID = claims.Subject
					actor.Name = claims.Name
					actor.Email = claims.Email
				}
				logger.Error(msg, errors.Wrap(err, msg), actor)

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
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
