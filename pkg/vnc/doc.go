/*
Package vnc proxies bhyve zone framebuffers to WebSocket clients.

A running bhyve zone exposes its VNC framebuffer as a unix socket at
<zonepath>/root/tmp/vm.vnc. Browsers cannot dial unix sockets, so the
manager runs one small WebSocket listener per zone on a port from the
configured range and shuttles raw RFB bytes between the two: binary
messages from the client are written to the socket verbatim, socket reads
go back as binary messages. noVNC connects to the listener directly.

Each proxy is recorded as a VNCSession row carrying the listener port and
this agent's pid. At most one session per zone is active; Start is
idempotent while the proxy runs and reclaims leftover rows from a previous
agent process. Rows whose pid has died are also swept by the reconciler,
so a crashed agent never strands a zone's single session slot.
*/
package vnc
