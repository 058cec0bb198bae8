package runnerspec

import "fmt"

// ErrUnknownExecutable indicates exec_type referenced an executable name
// that is not present in the Registries.
type ErrUnknownExecutable struct{ Name string }

func (e *ErrUnknownExecutable) Error() string {
	return fmt.Sprintf("unknown executable %q", e.Name)
}

// ErrUnknownHandler indicates exec_type referenced a handler name that is
// not present in the Registries.
type ErrUnknownHandler struct{ Name string }

func (e *ErrUnknownHandler) Error() string {
	return fmt.Sprintf("unknown handler %q", e.Name)
}

func unknownExecutable(name string) error { return &ErrUnknownExecutable{Name: name} }
func unknownHandler(name string) error    { return &ErrUnknownHandler{Name: name} }
