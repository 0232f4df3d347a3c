package middleware

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// CORS returns a CORS middleware for the given origins ("*" allows any).
// Allowed methods are the ones routes reports, resolved on the first
// request so routes registered after Use are included.
func CORS(allowOrigins []string, routes func() gin.RoutesInfo) gin.HandlerFunc {
	var (
		once    sync.Once
		methods string
	)
	return func(c *gin.Context) {
		once.Do(func() { methods = allowedMethods(routes) })

		origin := c.GetHeader("Origin")
		if originAllowed(allowOrigins, origin) {
			if origin != "" {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			} else {
				c.Header("Access-Control-Allow-Origin", "*")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, Last-Event-ID")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func originAllowed(allowOrigins []string, origin string) bool {
	for _, o := range allowOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// allowedMethods lists the distinct registered methods plus OPTIONS
func allowedMethods(routes func() gin.RoutesInfo) string {
	seen := map[string]bool{http.MethodOptions: true}
	if routes != nil {
		for _, r := range routes() {
			seen[r.Method] = true
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		if m != http.MethodOptions {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return strings.Join(append(out, http.MethodOptions), ", ")
}
