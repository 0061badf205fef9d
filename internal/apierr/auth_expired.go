package apierr

import (
	"errors"
	"fmt"
)

// ErrNoRefreshToken is returned when a refresh is attempted with no refresh
// token in the store.
var ErrNoRefreshToken = errors.New("no refresh token available")

// AuthExpiredError indicates the session could not be recovered: the original
// request got a 401 and the refresh flow either failed (the token store is
// cleared) or the retry budget for that request was already spent.
type AuthExpiredError struct {
	Reason string
	Err    error
}

func NewAuthExpiredError(reason string, err error) *AuthExpiredError {
	return &AuthExpiredError{Reason: reason, Err: err}
}

func (e *AuthExpiredError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session expired (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("session expired (%s)", e.Reason)
}

func (e *AuthExpiredError) Unwrap() error {
	return e.Err
}
