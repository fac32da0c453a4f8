package middleware

import (
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderAPIVersion carries the registry API version in both directions.
	HeaderAPIVersion = "X-API-Version"

	ContextKeyAPIVersion = "api_version"

	CurrentAPIVersion = 1
	MinAPIVersion     = 1
)

// acceptVersionRegex matches Accept header like "application/vnd.sidecar.v1+json".
var acceptVersionRegex = regexp.MustCompile(`application/vnd\.sidecar\.v(\d+)\+json`)

// APIVersion resolves the registry API version from X-API-Version, then from
// a vendor Accept header, defaulting to the current version. The resolved
// version is echoed back in X-API-Version.
func APIVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		version := resolveAPIVersion(c)
		c.Set(ContextKeyAPIVersion, version)
		c.Header(HeaderAPIVersion, strconv.Itoa(version))
		c.Next()
	}
}

// GetAPIVersion returns the API version from the Gin context.
func GetAPIVersion(c *gin.Context) int {
	if v, exists := c.Get(ContextKeyAPIVersion); exists {
		if ver, ok := v.(int); ok {
			return ver
		}
	}
	return CurrentAPIVersion
}

func resolveAPIVersion(c *gin.Context) int {
	if h := c.GetHeader(HeaderAPIVersion); h != "" {
		if v, ok := supportedVersion(h); ok {
			return v
		}
	}

	if matches := acceptVersionRegex.FindStringSubmatch(c.GetHeader("Accept")); len(matches) == 2 {
		if v, ok := supportedVersion(matches[1]); ok {
			return v
		}
	}

	return CurrentAPIVersion
}

func supportedVersion(s string) (int, bool) {
	v, err := strconv.Atoi(s)
	if err != nil || v < MinAPIVersion || v > CurrentAPIVersion {
		return 0, false
	}
	return v, true
}
