// Package ws serves websocket connections that speak the envelope wire
// format: {"type", "payload", "timestamp"} per text frame.
//
// The package implements:
//   - Hub: the set of connected clients and broadcast to all of them
//   - Handler: upgrade, read and write pumps, ping/pong keepalive
//   - Service: rebroadcasts a realtime client's state to browser clients
//     and relays their commands back to it
//
// The fake backend reuses Hub and Handler for its side of the protocol.
package ws
