// Package app wires the hub together: configuration, logging and telemetry,
// the session store, the WebSocket hub with its relays, the HTTP router, and
// graceful shutdown.
//
// # Initialization Flow
//
//	1. Load configuration (defaults, YAML file, environment)
//	2. Initialize logging and OpenTelemetry
//	3. Open the session store selected by SESSION_BACKEND
//	4. Start the hub and build the chat and catalog relays
//	5. Connect the cross-instance catalog bridge when enabled
//	6. Set up handlers and middleware, create the HTTP server
//
// # Usage
//
//	app, err := app.NewApplication()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := app.Run(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Graceful Shutdown
//
// Run stops on SIGINT or SIGTERM. Stop shuts the HTTP server down, then stops
// the hub, which flushes each connection's buffered frames and sends a close
// frame, then closes the backends and flushes telemetry.
//
// Initialization errors are returned to the caller; the package never calls
// os.Exit.
package app
