package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stagepass/session-service/internal/authstate"
)

// OnlyIfLoggedIn renders nothing (204) unless the session is resolved with an identity.
func OnlyIfLoggedIn(r authstate.StateReader) gin.HandlerFunc {
	return gate(r, authstate.LoggedIn)
}

// OnlyIfProfileLoaded renders nothing (204) until the profile has been delivered.
func OnlyIfProfileLoaded(r authstate.StateReader) gin.HandlerFunc {
	return gate(r, authstate.ProfileLoaded)
}

func gate(r authstate.StateReader, open func(authstate.State) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !open(r.Snapshot()) {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
