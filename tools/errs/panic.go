package errs

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrPanic turns a recovered value into an internal error; nil stays nil.
func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	return pkgerrors.WithStack(&CodeError{Code: ServerInternalError, Msg: "panic", Detail: toStr(r)})
}

// Recovered is ErrPanic for code that already knows its own error code.
func Recovered(base *CodeError, r any) error {
	if r == nil {
		return nil
	}
	return base.WrapMsg("recovered", "panic", fmt.Sprint(r))
}
