package workflow

import "fmt"

// ComponentError tags a lower-level failure with which phase of the
// plan/search/analyze/report pipeline produced it, the way the teacher's
// team package annotates failures with a component/operation pair rather
// than a bare error string.
type ComponentError struct {
	Component string
	Operation string
	Message   string
	Err       error
}

func (e *ComponentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *ComponentError) Unwrap() error {
	return e.Err
}

func newComponentError(operation, message string, err error) *ComponentError {
	return &ComponentError{Component: "workflow", Operation: operation, Message: message, Err: err}
}
