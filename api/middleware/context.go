package middleware

import (
	"identra/internal/entity"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	contextUserKey    = "auth_user"
	contextSessionKey = "auth_session_id"
)

func SetAuthContext(c echo.Context, user *entity.User, sessionID uuid.UUID) {
	c.Set(contextUserKey, user)
	c.Set(contextSessionKey, sessionID)
}

func UserFromContext(c echo.Context) (*entity.User, bool) {
	user, ok := c.Get(contextUserKey).(*entity.User)
	if !ok || user == nil {
		return nil, false
	}
	return user, true
}

func UserIDFromContext(c echo.Context) (uuid.UUID, bool) {
	user, ok := UserFromContext(c)
	if !ok {
		return uuid.Nil, false
	}
	return user.ID, true
}

func RoleFromContext(c echo.Context) (entity.UserRole, bool) {
	user, ok := UserFromContext(c)
	if !ok {
		return "", false
	}
	return user.Role, true
}

func SessionIDFromContext(c echo.Context) (uuid.UUID, bool) {
	value := c.Get(contextSessionKey)
	sessionID, ok := value.(uuid.UUID)
	return sessionID, ok
}
