// Package config provides 12-factor configuration management for the
// variable inspector service.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags override environment variables.
//
// Configuration Sections:
//   - Server: panel HTTP server settings (port, host)
//   - Gateway: Jupyter kernel gateway URL and token
//   - Inspector: polling interval, trigger rate, matrix row cap, execute timeout
//   - Sandbox: in-process interpreter timeout
//   - Logging: log level and output format
//
// Environment Variables:
//   - PORT, HOST
//   - GATEWAY_URL, GATEWAY_TOKEN, GATEWAY_ENABLED
//   - INSPECT_INTERVAL, INSPECT_RATE, INSPECT_BURST, MATRIX_MAX_ROWS, EXECUTE_TIMEOUT
//   - SANDBOX_TIMEOUT
//   - LOG_LEVEL, LOG_DEV
package config
