package lifecycle

import (
	"errors"
	"fmt"

	"filegate/api/internal/rbac"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrMissingComment    = errors.New("missing comment")
	// ErrConflict reports a lost compare-and-set: the stored status changed
	// between read and write.
	ErrConflict = errors.New("status conflict")
)

// TransitionError carries the context of a refused transition and unwraps to
// one of the sentinel errors above.
type TransitionError struct {
	Kind   error
	From   Status
	Action Action
	Role   rbac.Role
}

func (e *TransitionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%v: %s from %s as %s", e.Kind, e.Action, e.From, e.Role)
}

func (e *TransitionError) Unwrap() error {
	return e.Kind
}

func refuse(kind error, in Input) error {
	return &TransitionError{Kind: kind, From: in.Current, Action: in.Action, Role: in.Role}
}
