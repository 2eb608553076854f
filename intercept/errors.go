package intercept

import "fmt"

// SetupError is the panic value raised when interception cannot be set up.
type SetupError struct {
	Class    string
	Selector string
	Reason   string
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("intercept: cannot intercept %s#%s: %s", e.Class, e.Selector, e.Reason)
}

func setupFailure(class, selector, format string, args ...any) *SetupError {
	return &SetupError{Class: class, Selector: selector, Reason: fmt.Sprintf(format, args...)}
}
