package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/bookverse/payment-bridge/internal/ledger"
	"github.com/bookverse/payment-bridge/pkg/jwt"
	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// UserContextKey is the key used to store user information in Gin context
const UserContextKey = "user"

// UserContext is the authenticated wallet owner and the token the ledger calls carry
type UserContext struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	Token  string `json:"-"`
}

// CredentialSink remembers the latest bearer token of each wallet owner
type CredentialSink interface {
	Put(userID, token string)
	Token(userID string) (string, bool)
}

// TokenVerifier asks the storefront backend whether it accepts a token
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) error
}

// AuthMiddleware reads the bearer token, records it for background
// reconciliation and puts the user in the context.
//
// Without a signing secret the token is only decoded. The verifier must then
// accept it before it is recorded or the request goes on, so a forged subject
// can neither read another wallet nor replace its stored credential.
func AuthMiddleware(jwtService *jwt.Service, credentials CredentialSink, verifier TokenVerifier, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.WithFields(logrus.Fields{
				"path": c.Request.URL.Path,
				"ip":   c.ClientIP(),
			}).Warn("AUTH FAILED: Missing authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authorization header is required",
				"code":    "MISSING_AUTH_HEADER",
			})
			return
		}

		tokenString, ok := jwt.ExtractBearer(authHeader)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid authorization header format. Expected: Bearer <token>",
				"code":    "INVALID_AUTH_FORMAT",
			})
			return
		}

		claims, err := jwtService.ParseAccessToken(tokenString)
		if err != nil {
			entry := logger.WithError(err).WithField("path", c.Request.URL.Path)
			if errors.Is(err, jwtlib.ErrTokenExpired) {
				entry.Info("AUTH FAILED: Token expired")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "token_expired",
					"message": "Access token has expired. Please sign in again.",
					"code":    "TOKEN_EXPIRED",
				})
				return
			}
			entry.Warn("AUTH FAILED: Invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token",
				"message": "Invalid access token",
				"code":    "INVALID_TOKEN",
			})
			return
		}

		userCtx := UserContext{
			UserID: claims.Subject(),
			Email:  claims.Email,
			Role:   claims.Role,
			Token:  tokenString,
		}

		if !jwtService.Verifies() && !knownToken(credentials, userCtx.UserID, tokenString) {
			if verifier == nil {
				logger.WithField("path", c.Request.URL.Path).Error("AUTH FAILED: No verifier for unsigned tokens")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "invalid_token",
					"message": "Invalid access token",
					"code":    "INVALID_TOKEN",
				})
				return
			}
			if err := verifier.VerifyToken(c.Request.Context(), tokenString); err != nil {
				entry := logger.WithError(err).WithFields(logrus.Fields{
					"path":    c.Request.URL.Path,
					"user_id": userCtx.UserID,
				})
				var apiErr *ledger.APIError
				if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
					entry.Warn("AUTH FAILED: Token rejected by backend")
					c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
						"error":   "invalid_token",
						"message": "Invalid access token",
						"code":    "INVALID_TOKEN",
					})
					return
				}
				entry.Error("AUTH FAILED: Backend unavailable for token check")
				c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
					"error":   "ledger_unavailable",
					"message": "Could not verify access token, please retry",
					"code":    "LEDGER_UNAVAILABLE",
				})
				return
			}
		}

		if credentials != nil {
			credentials.Put(userCtx.UserID, tokenString)
		}

		c.Set(UserContextKey, userCtx)
		c.Set("user_id", userCtx.UserID)
		c.Next()
	}
}

// knownToken reports whether token is already the stored credential of userID
func knownToken(credentials CredentialSink, userID, token string) bool {
	if credentials == nil {
		return false
	}
	stored, ok := credentials.Token(userID)
	return ok && stored == token
}

// RequireRole creates a middleware that checks the user carries one of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "User context not found. Auth middleware may not be applied.",
				"code":    "MISSING_USER_CONTEXT",
			})
			return
		}

		for _, role := range roles {
			if userCtx.Role == role {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You don't have permission to access this resource",
			"code":    "INSUFFICIENT_PERMISSIONS",
		})
	}
}

// GetUserContext retrieves the user context from Gin context
func GetUserContext(c *gin.Context) (UserContext, bool) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return UserContext{}, false
	}

	userCtx, ok := value.(UserContext)
	if !ok {
		return UserContext{}, false
	}

	return userCtx, true
}

// MustGetUserContext retrieves the user context or panics (use only after AuthMiddleware)
func MustGetUserContext(c *gin.Context) UserContext {
	userCtx, exists := GetUserContext(c)
	if !exists {
		panic("user context not found - ensure AuthMiddleware is applied")
	}
	return userCtx
}
