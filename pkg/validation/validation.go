// Package validation marks errors caused by bad client input so handlers can
// tell them apart from storage or upstream failures.
package validation

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrInvalid matches every error built by Errorf.
var ErrInvalid = errors.New("invalid input")

type inputError struct {
	msg string
	err error
}

func (e *inputError) Error() string        { return e.msg }
func (e *inputError) Unwrap() error        { return e.err }
func (e *inputError) Is(target error) bool { return target == ErrInvalid }

// Errorf formats like fmt.Errorf, %w included, and marks the result as a
// validation failure. The message is returned to the client unchanged.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &inputError{msg: err.Error(), err: errors.Unwrap(err)}
}

// HTTPError maps validation failures to 400 and anything else to 500. The
// cause of a 500 stays on Internal for logging and is not sent to the client.
func HTTPError(err error) *echo.HTTPError {
	if errors.Is(err, ErrInvalid) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)).SetInternal(err)
}
