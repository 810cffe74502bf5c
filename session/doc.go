// Package session implements the per-transfer state machines and the store
// that owns them.
//
// Two session variants exist. Outbound sessions track send attempts to a
// discovered endpoint; one exists per endpoint id and lives until the
// recipient list is refreshed. The inbound session is a single slot: the
// protocol allows at most one concurrent transfer, so at most one inbound
// request can be pending or running at a time.
//
// All session mutation happens through the Store, which guards the outbound
// registry, its ordered presentation list, and the inbound slot with one
// mutex. Observers are notified outside state transitions with plain typed
// callbacks rather than implicit property reactivity.
package session
