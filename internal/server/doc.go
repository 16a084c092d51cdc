// Package server wires the variable inspector together.
//
// Server Lifecycle:
//  1. Load configuration from environment and flags
//  2. Build logger, metrics, session pool and inspector manager
//  3. Create the gateway client when GATEWAY_ENABLED is set
//  4. Mount middleware, REST routes and the /ws stream
//  5. Run the refresher and the HTTP server until the context ends
//  6. Close handlers and sessions
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
//	err = srv.Run(ctx)
package server
