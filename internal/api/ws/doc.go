// Package ws provides the WebSocket endpoints of the preview service.
//
// Two kinds of connection are served:
//
//   - /ws/boundary hosts a fresh isolation boundary per connection. A host
//     controller configured with a remote launcher dials it once per
//     session and speaks the render protocol over the socket.
//   - /ws/sessions/:id streams the events of one live session to a browser
//     and accepts render requests from it.
//
// Message Types (browser → server):
//   - render: {"type":"render","sourceText":"..."}
//
// Message Types (server → browser):
//   - state: current session snapshot, sent once on connect
//   - accepted: sequence allocated for a render request
//   - ready, outcome, frame, timeout, destroyed: session events
//   - error: request could not be handled
//
// Example Usage:
//
//	handler := ws.NewHandler(controller, sandboxConfig, ws.WithLogger(logger))
//	defer handler.Close()
//	router.GET("/ws/boundary", handler.HandleBoundary)
//	router.GET("/ws/sessions/:id", handler.HandleSession)
package ws
