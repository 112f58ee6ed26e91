package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/auth"
	"github.com/amoylab/msgate/internal/common/cnst"
	"github.com/amoylab/msgate/internal/common/errorx"
)

// TokenVerifier turns a bearer token into a principal
type TokenVerifier interface {
	Verify(token string) (*auth.Principal, error)
}

// JWTAuthMiddleware rejects requests without a bearer token (401) or with an
// invalid or expired one (403). On success the principal is stored on the
// gin context and on the request context.
func JWTAuthMiddleware(logger *zap.Logger, verifier TokenVerifier, eh *errorx.ErrorHandler) gin.HandlerFunc {
	logger = logger.Named("middleware.jwt")
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			eh.HandleError(c, errorx.Auth("Access token required."))
			return
		}

		principal, err := verifier.Verify(token)
		if err != nil {
			logger.Debug("token verification failed",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err))
			eh.HandleError(c, errorx.Forbidden("Invalid or expired token."))
			return
		}

		c.Set(cnst.CtxKeyPrincipal, principal)
		c.Set(errorx.CtxKeyUsername, principal.Username)
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}

// PrincipalFrom returns the principal set by JWTAuthMiddleware
func PrincipalFrom(c *gin.Context) (*auth.Principal, bool) {
	v, ok := c.Get(cnst.CtxKeyPrincipal)
	if !ok {
		return nil, false
	}
	p, ok := v.(*auth.Principal)
	return p, ok && p != nil
}
