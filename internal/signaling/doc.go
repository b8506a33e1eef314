// Package signaling implements the WebSocket surface of the relay: envelope
// parsing and validation, per-connection dispatch into the room store,
// disconnect cleanup, the periodic stale-state sweep, and the shutdown
// broadcast.
//
// The relay never inspects SDP or ICE candidate payloads; they are carried
// as raw JSON and forwarded byte-identical.
package signaling
