package config

import (
	"strings"
	"time"
)

// CacheConfig defines settings for the response cache middleware that sits
// in front of the public listing browse endpoints.  When Enabled is false
// or no Redis client is configured, caching is disabled.  Methods lists the
// HTTP methods to cache.  TTL bounds how long a freshly moderated listing
// may stay invisible (or visible after rejection) on the public pages.
// KeyStrategy determines which parts of the request contribute to the
// cache key.  Requests carrying a session cookie are never cached so that
// owner and moderator views never leak into the shared cache.
type CacheConfig struct {
	Enabled       bool
	Methods       map[string]bool
	TTL           time.Duration
	KeyStrategy   string
	Prefix        string
	MaxBodyBytes  int
	BypassCookies []string
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
func LoadCacheConfig() CacheConfig {
	methods := map[string]bool{}
	for _, m := range envList("CACHE_METHODS", "GET") {
		methods[strings.ToUpper(m)] = true
	}
	return CacheConfig{
		Enabled:       envBool("CACHE_ENABLED", true),
		Methods:       methods,
		TTL:           envDur("CACHE_TTL", 30*time.Second),
		KeyStrategy:   envStr("CACHE_KEY_STRATEGY", "route_query"),
		Prefix:        envStr("CACHE_PREFIX", "mp:cache"),
		MaxBodyBytes:  envInt("CACHE_MAX_BODY_BYTES", 1<<20),
		BypassCookies: envList("CACHE_BYPASS_COOKIES", "mp-access-token,mp-refresh-token"),
	}
}
