// Package client tracks live connections and room membership.
//
// Conn wraps a transport with a FIFO outbound queue drained by one writer
// goroutine, Registry maps each user to at most one live Conn, and Rooms
// holds in-memory room membership that clients re-establish on reconnect.
package client
