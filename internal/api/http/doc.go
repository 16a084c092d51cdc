// Package http provides the REST API of the variable inspector panel.
//
// Endpoints:
//   - Health: /, /health and /metrics
//   - Languages: /api/languages
//   - Sessions: /api/sessions, /api/sessions/:id, /api/sessions/:id/{focus,execute,restart}
//   - Variables: /api/inspect, /api/variables, /api/variables/:name/matrix
//
// Errors are JSON bodies of the form {"success": false, "error": "..."}
// with a status derived from the sentinel errors of the inspector, kernel
// and launcher packages. Interpreter errors add ename, evalue and traceback.
//
// Example Usage:
//
//	handlers := http.NewHandlers(http.Options{Pool: pool, Launcher: l, Tracker: tracker})
//	handlers.Register(router)
package http
