package server

import "net/http"

const (
	defaultFrameAncestors     = "'none'"
	defaultFrameOptions       = "DENY"
	defaultReferrerPolicy     = "no-referrer"
	defaultPermissionsPolicy  = "camera=(), microphone=(), geolocation=()"
	defaultContentTypeOptions = "nosniff"
)

// SecurityConfig controls the hardening headers stamped on every response.
// This service serves JSON and a text metrics page, never markup, so the
// default policy denies all resource loading outright. Zero-valued fields
// fall back to those defaults; set FrameAncestors when the dashboard UI is
// embedded in a trusted host.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameAncestors        string
	FrameOptions          string
	ReferrerPolicy        string
	PermissionsPolicy     string
	ContentTypeOptions    string
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	if cfg.FrameAncestors == "" {
		cfg.FrameAncestors = defaultFrameAncestors
	}
	if cfg.FrameOptions == "" {
		cfg.FrameOptions = defaultFrameOptions
	}
	if cfg.ReferrerPolicy == "" {
		cfg.ReferrerPolicy = defaultReferrerPolicy
	}
	if cfg.PermissionsPolicy == "" {
		cfg.PermissionsPolicy = defaultPermissionsPolicy
	}
	if cfg.ContentTypeOptions == "" {
		cfg.ContentTypeOptions = defaultContentTypeOptions
	}
	if cfg.ContentSecurityPolicy == "" {
		cfg.ContentSecurityPolicy = defaultContentSecurityPolicy(cfg.FrameAncestors)
	}
	return cfg
}

// defaultContentSecurityPolicy locks the response surface down to nothing:
// an API that never serves HTML has no legitimate sub-resource loads. Only
// the frame-ancestors directive stays configurable.
func defaultContentSecurityPolicy(frameAncestors string) string {
	if frameAncestors == "" {
		frameAncestors = defaultFrameAncestors
	}
	return "default-src 'none'; " +
		"frame-ancestors " + frameAncestors + "; " +
		"base-uri 'none'; " +
		"form-action 'none'"
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	effective := cfg.withDefaults()
	headers := []struct {
		name  string
		value string
	}{
		{"Content-Security-Policy", effective.ContentSecurityPolicy},
		{"X-Frame-Options", effective.FrameOptions},
		{"X-Content-Type-Options", effective.ContentTypeOptions},
		{"Referrer-Policy", effective.ReferrerPolicy},
		{"Permissions-Policy", effective.PermissionsPolicy},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, header := range headers {
			if header.value != "" {
				w.Header().Set(header.name, header.value)
			}
		}
		next.ServeHTTP(w, r)
	})
}
