package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const SessionCookie = "pfmea_session"

// SessionMiddleware assigns every browser a session id cookie. The wizard's
// UI state is keyed by this id.
func SessionMiddleware(maxAgeSeconds int, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid, err := c.Cookie(SessionCookie)
		if err != nil || uuid.Validate(sid) != nil {
			sid = uuid.NewString()
		}
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     SessionCookie,
			Value:    sid,
			Path:     "/",
			MaxAge:   maxAgeSeconds,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
		c.Set("session_id", sid)
		c.Next()
	}
}

func SessionID(c *gin.Context) string {
	return c.GetString("session_id")
}
