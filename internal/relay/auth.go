package relay

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vozconnect/pkg/jwt"
	"vozconnect/pkg/logger"
	"vozconnect/pkg/response"
)

// AuthMiddleware validates the access token presented with the WebSocket
// handshake. Browsers cannot set headers on WebSocket requests, so the
// token rides in the query string; an Authorization header also works for
// non-WebSocket callers. The token's subject must match the userId the
// client claims.
func AuthMiddleware(manager *jwt.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			header := c.GetHeader("Authorization")
			if len(header) > 7 && header[:7] == "Bearer " {
				token = header[7:]
			}
		}
		if token == "" {
			response.Unauthorized(c, "missing access token")
			c.Abort()
			return
		}

		claims, err := manager.ValidateToken(token)
		if err != nil {
			logger.Warn("rejected relay connection with invalid token", zap.Error(err))
			response.Unauthorized(c, "invalid access token")
			c.Abort()
			return
		}

		if userID := c.Query("userId"); userID != "" && userID != claims.UserID {
			logger.Warn("token subject does not match claimed user",
				zap.String("token_user", claims.UserID),
				zap.String("claimed_user", userID))
			response.Forbidden(c, "token does not match user")
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Next()
	}
}
