// Package middleware provides the gin middleware of the panel API.
//
//   - CORS: cross-origin access for notebook frontends, websockets included
//   - RateLimit: per-IP token buckets with idle eviction
//   - RequestID: X-Request-ID tagging with prefixed ULIDs
//   - AccessLog: one zap line per request
//
// Example Usage:
//
//	router.Use(middleware.RequestID(), middleware.AccessLog(log))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
