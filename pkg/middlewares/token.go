package middlewares

import (
	"strings"

	errprocess "video_pipeline_service/pkg/err"
	t_token "video_pipeline_service/pkg/token"

	"github.com/gofiber/fiber/v2"
)

const (
	//QueryToken token in query name
	QueryToken = "auth"

	//CookieToken token in cookie name
	CookieToken = "auth_token"

	//TokenUserID get user form token, set c.locals name
	TokenUserID = "UserID"
	//TokenRole get role form token, set c.locals name
	TokenRole = "role"
)

// JWTMiddleware validates JWT from Authorization header, query or cookie
func JWTMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")

		// header 沒有時依序找 query / cookie
		if tokenStr == "" {
			tokenStr = c.Query(QueryToken)
		}
		if tokenStr == "" {
			tokenStr = c.Cookies(CookieToken)
		}

		if tokenStr == "" {
			return unauthorized(c, "Missing token")
		}

		claims, err := t_token.ParseJWTWrapper(tokenStr)
		if err != nil {
			return unauthorized(c, "Invalid token")
		}

		c.Locals(TokenUserID, claims.UserID)
		c.Locals(TokenRole, claims.Role)
		return c.Next()
	}
}

// CurrentUser user id set by JWTMiddleware, "" when absent
func CurrentUser(c *fiber.Ctx) string {
	id, _ := c.Locals(TokenUserID).(string)
	return id
}

func unauthorized(c *fiber.Ctx, detail string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": fiber.Map{
			"kind":   errprocess.KindUnauthorized,
			"detail": detail,
		},
	})
}
