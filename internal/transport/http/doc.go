// Package http implements the HTTP surface of the hub: the /ws handshake, the
// catalog ingest endpoint used by the storefront, and the operational endpoints
// (health, stats, metrics). Handlers stay thin and delegate to services.
//
// # Request Flow
//
//	HTTP Request → Chi Router → Middleware → Handler → Service → Hub
//
// # Error Handling
//
// Every error response goes through errors.ErrorHandler and is rendered as
// RFC 7807 Problem Details:
//
//	{
//	    "type": "/errors/validation",
//	    "title": "Bad Request",
//	    "status": 400,
//	    "detail": "kind must be one of: catalog-created, catalog-updated, catalog-deleted",
//	    "instance": "/api/catalog/events"
//	}
//
// # WebSocket Handshake
//
// WebSocketHandler authenticates the request from its session cookie before
// upgrading, so the identity is fixed for the connection's lifetime. Once
// upgraded the connection belongs to the hub; the handler returns immediately.
package http
