// Package transport opens the persistent duplex stream the connection state
// machine drives.
//
// Provider is the seam the state machine depends on; WebSocketProvider is the
// production implementation over gorilla/websocket with ping/pong keepalive.
package transport
