package protocol

import "fmt"

// TransferState is the engine-reported phase of a transfer's handshake and
// data-transfer lifecycle. The enumeration is defined by the protocol engine;
// the coordinator only inspects it, it never drives the engine through it.
type TransferState uint8

const (
	StateInitial TransferState = iota
	StateReceivedConnectionRequest
	StateSentUkeyServerInit
	StateSentUkeyClientInit
	StateSentUkeyClientFinish
	StateSentPairedKeyEncryption
	StateReceivedUkeyClientFinish
	StateSentConnectionResponse
	StateSentPairedKeyResult
	StateSentIntroduction
	StateReceivedPairedKeyResult
	StateWaitingForUserConsent
	StateSendingFiles
	StateReceivingFiles
	StateDisconnected
	StateRejected
	StateCancelled
	StateFinished
)

// String returns a human-readable name for the transfer state.
func (s TransferState) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateReceivedConnectionRequest:
		return "ReceivedConnectionRequest"
	case StateSentUkeyServerInit:
		return "SentUkeyServerInit"
	case StateSentUkeyClientInit:
		return "SentUkeyClientInit"
	case StateSentUkeyClientFinish:
		return "SentUkeyClientFinish"
	case StateSentPairedKeyEncryption:
		return "SentPairedKeyEncryption"
	case StateReceivedUkeyClientFinish:
		return "ReceivedUkeyClientFinish"
	case StateSentConnectionResponse:
		return "SentConnectionResponse"
	case StateSentPairedKeyResult:
		return "SentPairedKeyResult"
	case StateSentIntroduction:
		return "SentIntroduction"
	case StateReceivedPairedKeyResult:
		return "ReceivedPairedKeyResult"
	case StateWaitingForUserConsent:
		return "WaitingForUserConsent"
	case StateSendingFiles:
		return "SendingFiles"
	case StateReceivingFiles:
		return "ReceivingFiles"
	case StateDisconnected:
		return "Disconnected"
	case StateRejected:
		return "Rejected"
	case StateCancelled:
		return "Cancelled"
	case StateFinished:
		return "Finished"
	default:
		return fmt.Sprintf("TransferState(%d)", uint8(s))
	}
}

// IsTerminal reports whether the state ends a transfer attempt. No further
// client events arrive for a transfer once a terminal state was emitted.
func (s TransferState) IsTerminal() bool {
	switch s {
	case StateDisconnected, StateRejected, StateCancelled, StateFinished:
		return true
	}
	return false
}

// Direction indicates whether a transfer was initiated by this device
// (DirectionOutbound) or by a remote device (DirectionInbound).
type Direction uint8

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

// String returns a human-readable name for the direction.
func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "Inbound"
	case DirectionOutbound:
		return "Outbound"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// Action is a user decision forwarded to the engine's action sink.
type Action uint8

const (
	// ActionConsentAccept approves an inbound transfer request.
	ActionConsentAccept Action = iota
	// ActionConsentDecline rejects an inbound transfer request.
	ActionConsentDecline
	// ActionTransferCancel aborts a transfer already in progress.
	ActionTransferCancel
)

// String returns a human-readable name for the action.
func (a Action) String() string {
	switch a {
	case ActionConsentAccept:
		return "ConsentAccept"
	case ActionConsentDecline:
		return "ConsentDecline"
	case ActionTransferCancel:
		return "TransferCancel"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// PayloadKind describes what an inbound transfer carries.
type PayloadKind uint8

const (
	PayloadFiles PayloadKind = iota
	PayloadText
	PayloadURL
	PayloadWiFi
)

// IsText reports whether the payload is textual rather than a file set.
func (k PayloadKind) IsText() bool {
	return k != PayloadFiles
}

// EndpointInfo is a discoverable remote device capable of participating in a
// transfer. Records are owned by the discovery registry; sessions hold
// snapshots, never shared references.
type EndpointInfo struct {
	ID   string
	Name string
	Addr string
	Port uint16

	// Present is nil while the endpoint's presence is unknown, which happens
	// when a previously discovered device stops advertising. Sessions for
	// absent endpoints stay listed but must not accept new send requests.
	Present *bool
}

// Address returns the host:port dial string for the endpoint.
func (e EndpointInfo) Address() string {
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

// Metadata carries the transfer details attached to a client event.
type Metadata struct {
	// TotalBytes is the full payload size; AckBytes the cumulative number of
	// bytes acknowledged by the remote side so far.
	TotalBytes int64
	AckBytes   int64

	// PinCode is the out-of-band verification code shown to both users.
	PinCode string

	// Source is the display name of the remote device.
	Source string

	PayloadKind PayloadKind
	Files       []string
	TextPreview string
	// Text holds the transferred text payload once a textual transfer
	// finishes; empty before that and for file transfers.
	Text string
}

// FileCount returns the number of files in the payload description.
func (m *Metadata) FileCount() int {
	if m == nil {
		return 0
	}
	return len(m.Files)
}

// EventKind separates client-visible transfer events from engine-internal
// bookkeeping messages that travel on the same stream.
type EventKind uint8

const (
	// KindClient marks events that describe a transfer the client tracks.
	KindClient EventKind = iota
	// KindEngine marks engine-internal messages. The router discards these
	// without side effects.
	KindEngine
)

// Event is a single transfer-state message from the engine's event stream.
// Events are immutable once emitted and consumed exactly once, in order.
type Event struct {
	TransferID string
	Kind       EventKind
	Direction  Direction
	State      TransferState
	Meta       *Metadata
}

// IsClient reports whether the event describes a client-visible transfer.
func (e Event) IsClient() bool {
	return e.Kind == KindClient
}

// PinCode returns the verification code carried by the event, if any.
func (e Event) PinCode() string {
	if e.Meta == nil {
		return ""
	}
	return e.Meta.PinCode
}

// SourceName returns the remote device's display name, or fallback when the
// event carries none.
func (e Event) SourceName(fallback string) string {
	if e.Meta == nil || e.Meta.Source == "" {
		return fallback
	}
	return e.Meta.Source
}

// SendRequest describes an outbound payload handed to the engine.
type SendRequest struct {
	EndpointID string
	Name       string
	Addr       string
	Files      []string
}
