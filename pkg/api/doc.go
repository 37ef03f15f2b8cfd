// Package api is the agent's HTTP and WebSocket surface. The surface is
// thin: mutating endpoints validate inputs, insert tasks and return 202
// with the task id; read endpoints project from the store; WebSocket
// endpoints bridge clients to the in-process console and terminal
// managers, while VNC endpoints hand out the proxy's own listener port.
// No handler performs blocking host operations inline.
package api
