package connect

import (
	"context"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/speakerq/internal/app/session"
	"github.com/osa030/speakerq/internal/infra/config"
)

const (
	// ModeratorSecretHeader is the header name for the session's moderator secret.
	ModeratorSecretHeader = "X-Moderator-Secret"
)

// moderatorProcedures lists the procedures that require the moderator secret.
var moderatorProcedures = map[string]bool{
	SetLockedProcedure: true,
}

// sessionScoped is implemented by requests that address one session.
type sessionScoped interface {
	GetSessionID() string
}

// NewModeratorAuthInterceptor creates an interceptor that validates the
// moderator secret of the addressed session for moderator-only procedures.
func NewModeratorAuthInterceptor(mgr *session.Manager, cfg *config.Config) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if !moderatorProcedures[req.Spec().Procedure] {
				return next(ctx, req)
			}

			scoped, ok := req.Any().(sessionScoped)
			if !ok {
				return nil, connect.NewError(connect.CodeInternal, errors.Newf("%s is not session scoped", req.Spec().Procedure))
			}

			secret := req.Header().Get(ModeratorSecretHeader)
			if secret == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, errors.New(cfg.GetMessage(session.CodeInvalidCredential)))
			}

			if err := mgr.Authenticate(scoped.GetSessionID(), secret); err != nil {
				zlog.Warn().Msgf("moderator secret rejected: procedure=%s session_id=%s", req.Spec().Procedure, scoped.GetSessionID())
				return nil, toConnectError(cfg, err)
			}

			return next(ctx, req)
		}
	}
}
