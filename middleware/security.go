package middleware

import (
	"fmt"

	"github.com/multiwiki/httpengine"
)

// SecurityConfig mirrors the teacher's gases/secure.go SecureConfig: header
// values for XSS protection, content-type sniffing, frame embedding, HSTS,
// and CSP.
type SecurityConfig struct {
	XSSProtection         string
	ContentTypeNosniff    string
	XFrameOptions         string
	HSTSMaxAgeSeconds     int
	HSTSExcludeSubdomains bool
	ContentSecurityPolicy string
}

// DefaultSecurityConfig matches the teacher's DefaultSecureConfig.
var DefaultSecurityConfig = SecurityConfig{
	XSSProtection:      "1; mode=block",
	ContentTypeNosniff: "nosniff",
	XFrameOptions:      "SAMEORIGIN",
}

// Security returns a Handler that sets standard security headers on the
// response before delegating to next. It is meant to be subscribed on the
// engine's request.middleware event rather than installed on a RouteNode,
// since it applies uniformly to every request.
func Security(next httpengine.Handler) httpengine.Handler {
	return SecurityWithConfig(DefaultSecurityConfig, next)
}

// SecurityWithConfig is Security with an explicit SecurityConfig.
func SecurityWithConfig(config SecurityConfig, next httpengine.Handler) httpengine.Handler {
	return func(rs *httpengine.RequestState) (httpengine.StreamEnded, error) {
		for k, v := range securityHeaders(config, rs.ExpectSecure) {
			rs.SetResponseHeader(k, v)
		}
		return next(rs)
	}
}

func securityHeaders(config SecurityConfig, secure bool) map[string]string {
	out := map[string]string{}
	if config.XSSProtection != "" {
		out["X-XSS-Protection"] = config.XSSProtection
	}
	if config.ContentTypeNosniff != "" {
		out["X-Content-Type-Options"] = config.ContentTypeNosniff
	}
	if config.XFrameOptions != "" {
		out["X-Frame-Options"] = config.XFrameOptions
	}
	if secure && config.HSTSMaxAgeSeconds != 0 {
		subdomains := ""
		if !config.HSTSExcludeSubdomains {
			subdomains = "; includeSubdomains"
		}
		out["Strict-Transport-Security"] = fmt.Sprintf("max-age=%d%s", config.HSTSMaxAgeSeconds, subdomains)
	}
	if config.ContentSecurityPolicy != "" {
		out["Content-Security-Policy"] = config.ContentSecurityPolicy
	}
	return out
}
