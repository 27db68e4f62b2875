package connect

import (
	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/speakerq/internal/app/session"
	"github.com/osa030/speakerq/internal/infra/config"
)

// ErrorCodeHeader carries the application error code on failed responses.
const ErrorCodeHeader = "X-Error-Code"

var errSlowWatcher = errors.New("watcher fell behind; reconnect to resynchronize")

// toConnectError maps a Manager error to a Connect error with the
// configured user-facing message.
func toConnectError(cfg *config.Config, err error) *connect.Error {
	code := session.Code(err)

	var rpcCode connect.Code
	switch code {
	case session.CodeInvalidArgument:
		rpcCode = connect.CodeInvalidArgument
	case session.CodeInvalidCredential, session.CodeForbidden:
		rpcCode = connect.CodePermissionDenied
	case session.CodeQueueLocked:
		rpcCode = connect.CodeFailedPrecondition
	case session.CodeNotFound, session.CodeSessionNotFound:
		rpcCode = connect.CodeNotFound
	default:
		rpcCode = connect.CodeInternal
	}

	connectErr := connect.NewError(rpcCode, errors.New(cfg.GetMessage(code)))
	connectErr.Meta().Set(ErrorCodeHeader, code)
	return connectErr
}
