package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// HashToken returns the bcrypt hash to put in http.token_hash.
func HashToken(token string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// bearerToken reads "Authorization: Bearer <t>", falling back to ?token=
// for websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func tokenAuth(hash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c.Request)
		if tok == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(tok)) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResp{Error: "authentication required"})
			return
		}
		c.Next()
	}
}
