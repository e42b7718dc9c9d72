package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"account-api/internal/domain"
	"account-api/internal/metrics"
	"account-api/internal/service"
)

const identityKey = "identity"

// IdentityMiddleware verifica el token del header Authorization y guarda la
// identidad en el contexto. Cualquier falla responde 403 con el mismo cuerpo.
func IdentityMiddleware(verifier service.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" || verifier == nil {
			rejectAccess(c)
			return
		}
		identity, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			rejectAccess(c)
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// GetIdentity obtiene la identidad verificada desde el contexto.
func GetIdentity(c *gin.Context) (domain.Identity, bool) {
	val, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := val.(domain.Identity)
	return identity, ok
}

// bearerToken acepta "Bearer <token>" o el token solo.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= len("bearer ") && strings.EqualFold(header[:len("bearer ")], "bearer ") {
		header = header[len("bearer "):]
	}
	return strings.TrimSpace(header)
}

func rejectAccess(c *gin.Context) {
	metrics.RecordAuthRejection()
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"statusCode": http.StatusForbidden,
		"timestamp":  time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		"path":       c.Request.URL.RequestURI(),
		"message":    "access denied",
	})
}
