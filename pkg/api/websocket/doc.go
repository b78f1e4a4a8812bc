// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/runs/:id/ws. The first frame is a snapshot of
// the run, followed by its lifecycle events until run.completed.
package websocket
