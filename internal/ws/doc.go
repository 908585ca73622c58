// Package ws implements the real-time collaboration hub.
//
// The package implements:
//   - Hub: owns the connection registry and room membership on a single
//     event loop, fanning messages out to room members, users or everyone
//   - Connection: adapts one WebSocket stream to the hub, running a read
//     pump and a write pump with ping/pong keepalive
//   - Handler: upgrades HTTP requests into hub connections
//   - Bus: optional cross-instance fan-out, backed by Redis or memory
//
// Delivery never blocks the hub. A connection whose outbound queue is
// full or whose stream is broken is evicted, and the remaining members of
// its room are told it left.
package ws
