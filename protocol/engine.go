package protocol

import "context"

// Engine is the narrow interface the coordinator holds on the protocol
// engine. Start and Stop bracket the engine's lifetime; subscriptions become
// invalid after Stop and must be re-established after the next Start.
type Engine interface {
	// Start brings the engine up with its current configuration. It returns
	// once the engine is serving, or with the startup error.
	Start(ctx context.Context) error

	// Stop tears the engine down and closes all subscription channels. It
	// blocks until the engine has fully stopped.
	Stop(ctx context.Context) error

	// SubscribeEvents returns a fresh receiver on the transfer event stream.
	// The channel is closed when the engine stops.
	SubscribeEvents() <-chan Event

	// SubscribeEndpoints returns a fresh receiver on the discovery feed.
	// The channel is closed when discovery or the engine stops.
	SubscribeEndpoints() <-chan EndpointInfo

	// StartDiscovery begins publishing endpoint records on the discovery
	// feed. StopDiscovery halts publishing; both are idempotent.
	StartDiscovery(ctx context.Context) error
	StopDiscovery()

	// Send initiates an outbound transfer. Progress arrives asynchronously
	// on the event stream under the request's endpoint id.
	Send(ctx context.Context, req SendRequest) error

	// SendAction forwards a user consent or cancel decision for a transfer.
	SendAction(ctx context.Context, transferID string, action Action) error

	// SetVisibility toggles whether this device is advertised to others.
	SetVisibility(visible bool)
}
