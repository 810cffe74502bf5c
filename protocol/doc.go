// Package protocol defines the boundary with the external protocol engine.
//
// The engine implements the wire-level nearby-sharing protocol: handshake,
// encryption, BLE advertisement, mDNS discovery, and chunked transfer. This
// package only models what crosses the boundary: endpoint records from the
// discovery feed, transfer-state events from the event stream, and the
// send/consent/cancel operations the coordinator invokes in response.
//
// Nothing in this package performs protocol work itself; concrete engines
// are supplied by the embedding application.
package protocol
