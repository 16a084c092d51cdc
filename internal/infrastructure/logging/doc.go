// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output on stderr
//
// Components derive scoped loggers with Named and attach session fields
// with With, so a single line carries the component, the session path and
// the language:
//
//	logger := logging.NewDefault().Named("inspector")
//	logger.Warn("inspection dropped", zap.String("session", id), zap.Error(err))
package logging
