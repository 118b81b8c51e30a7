package errs

import (
	"fmt"
	"time"
)

const (
	ServerInternalError = 500
	ArgsError           = 1001
	NotFoundError       = 1002

	// transport; TransportError matches Timeout and NoLink
	TransportError = 1100
	TimeoutError   = 1101
	NoLinkError    = 1102
	RemoteError    = 1103

	ValidationError     = 1201
	TransientStoreError = 1301
	WorkerPoolError     = 1401
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs           = NewCodeError(ArgsError, "ArgsError")
	ErrNotFound       = NewCodeError(NotFoundError, "NotFoundError")

	ErrTransport = NewCodeError(TransportError, "TransportError")
	ErrTimeout   = NewCodeError(TimeoutError, "TimeoutError")
	ErrNoLink    = NewCodeError(NoLinkError, "NoLinkError")
	ErrRemote    = NewCodeError(RemoteError, "RemoteError")

	ErrValidation     = NewCodeError(ValidationError, "ValidationError")
	ErrTransientStore = NewCodeError(TransientStoreError, "TransientStoreError")
	ErrWorkerPool     = NewCodeError(WorkerPoolError, "WorkerPoolError")
)

var byCode = map[int]*CodeError{
	ServerInternalError: ErrInternalServer,
	ArgsError:           ErrArgs,
	NotFoundError:       ErrNotFound,
	TransportError:      ErrTransport,
	TimeoutError:        ErrTimeout,
	NoLinkError:         ErrNoLink,
	RemoteError:         ErrRemote,
	ValidationError:     ErrValidation,
	TransientStoreError: ErrTransientStore,
	WorkerPoolError:     ErrWorkerPool,
}

func init() {
	// RemoteError is the peer failing, not the link
	_ = DefaultCodeRelation.Add(TransportError, TimeoutError)
	_ = DefaultCodeRelation.Add(TransportError, NoLinkError)
}

func toStr(v any) string {
	switch t := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return t
	case error:
		return t.Error()
	case time.Duration:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
