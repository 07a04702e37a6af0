package plugin

import (
	"errors"
	"fmt"
)

// CriticalErrorCode marks an error that must abort the whole action run.
const CriticalErrorCode = "CRITICAL_ERROR"

// CriticalError aborts ProcessActions instead of being recovered as a
// failed step. Wrap the underlying cause so errors.Is/As still work.
type CriticalError struct {
	Code string
	Err  error
}

func (e *CriticalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("critical action error (%s)", e.Code)
	}
	return fmt.Sprintf("critical action error (%s): %v", e.Code, e.Err)
}

func (e *CriticalError) Unwrap() error {
	return e.Err
}

// Critical wraps err as a CriticalError.
func Critical(err error) error {
	if err == nil {
		return nil
	}
	return &CriticalError{Code: CriticalErrorCode, Err: err}
}

// IsCritical reports whether err (anywhere in its chain) should abort the
// action run.
func IsCritical(err error) bool {
	var ce *CriticalError
	return errors.As(err, &ce)
}
