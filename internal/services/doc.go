// Package services holds the relays that turn domain events into hub publishes.
//
// # Services
//
//	- CatalogRelay: catalog mutations from the HTTP layer become events on the
//	  "catalog" topic. Identity is never consulted.
//	- ChatRelay: chat-send frames from connections become events on
//	  "room:<id>" topics after identity, membership, length and rate checks.
//	- CatalogBridge: optional Redis pub/sub fan-out so every instance delivers
//	  catalog events to its own subscribers.
//	- HealthService: liveness and readiness for the health endpoint.
//
// # Error Handling
//
// Rejections are *errors.AppError values. Their Code travels to the client in
// an error frame, so codes are part of the wire contract:
//
//	- AUTHORIZATION: anonymous sender or sender not in the room
//	- VALIDATION, TEXT_TOO_LONG, RATE_LIMITED: bad or excessive input
//	- NOT_FOUND: the connection is already gone
//
// # Testing
//
// Relays depend on websocket.Broadcaster, so unit tests use MockBroadcaster
// (testify/mock) and integration tests run a real Hub:
//
//	hub := websocket.NewHub(logger)
//	hub.Start()
//	relay := NewChatRelay(hub, DefaultChatOptions(), nil, logger)
package services
