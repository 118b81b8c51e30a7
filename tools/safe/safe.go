package safe

import (
	"PPost/logger"
	"PPost/tools/errs"

	"go.uber.org/zap"
)

// Go starts f on a new goroutine and logs instead of crashing when f panics.
func Go(log *zap.Logger, name string, f func()) {
	go func() {
		defer Recover(log, name)
		f()
	}()
}

// Recover must be deferred; it logs a recovered panic with its stack.
func Recover(log *zap.Logger, name string) {
	if r := recover(); r != nil {
		log = logger.OrNamed(log, "safe")
		log.Error("[SafeGo] panic recovered", zap.String("task", name), zap.Error(errs.ErrPanic(r)), zap.Stack("stack"))
	}
}

// Call runs f and turns a panic into an error.
func Call(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	return f()
}
