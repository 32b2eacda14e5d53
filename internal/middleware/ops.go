package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/simulacro-backend/internal/response"
	"github.com/stemsi/simulacro-backend/internal/service"
)

// HeaderOpsSecret carries the operational secret on ops endpoints.
const HeaderOpsSecret = "X-Ops-Secret"

// RequireOpsSecret guards operational endpoints with the bcrypt-hashed
// secret. When no hash is configured every request is rejected.
func RequireOpsSecret(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := c.GetHeader(HeaderOpsSecret)
		if secret == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if err := authService.VerifyOpsSecret(secret); err != nil {
			zerolog.Ctx(c.Request.Context()).Warn().Err(err).Str("ip", c.ClientIP()).Msg("Rejected ops request")
			response.AbortFail(c, http.StatusUnauthorized, response.ErrOpsSecretInvalid)
			return
		}
		c.Next()
	}
}
