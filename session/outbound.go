package session

import (
	"fmt"

	"github.com/rysete/packet/eta"
	"github.com/rysete/packet/protocol"
	"github.com/sirupsen/logrus"
)

// Status is the UI-level state of an outbound session. It is derived from
// engine-reported protocol states plus locally tracked queue state.
type Status uint8

const (
	// StatusIdle means the session is awaiting a send request or has been
	// reset; the endpoint card is clickable in this state.
	StatusIdle Status = iota
	// StatusQueued means a send was requested while another transfer held
	// the single protocol slot.
	StatusQueued
	// StatusRequested means the remote user has been asked for consent.
	StatusRequested
	// StatusOngoing means file data is being sent.
	StatusOngoing
	// StatusFailed means the attempt ended in disconnection or rejection.
	StatusFailed
	// StatusDone means the transfer finished successfully.
	StatusDone
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "AwaitingConsentOrIdle"
	case StatusQueued:
		return "Queued"
	case StatusRequested:
		return "RequestedForConsent"
	case StatusOngoing:
		return "OngoingTransfer"
	case StatusFailed:
		return "Failed"
	case StatusDone:
		return "Done"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Active reports whether the session occupies or is waiting for the
// protocol's single transfer slot.
func (s Status) Active() bool {
	switch s {
	case StatusQueued, StatusRequested, StatusOngoing:
		return true
	}
	return false
}

// removable reports whether a refresh may drop the session.
func (s Status) removable() bool {
	return !s.Active()
}

// Outbound tracks one send attempt per discovered endpoint. Fields are only
// mutated by the Store while it holds its lock.
type Outbound struct {
	id       string
	endpoint protocol.EndpointInfo
	files    []string

	status    Status
	lastEvent *protocol.Event
	est       *eta.Estimator
}

func newOutbound(endpoint protocol.EndpointInfo) *Outbound {
	return &Outbound{
		id:       endpoint.ID,
		endpoint: endpoint,
		status:   StatusIdle,
		est:      eta.New(0),
	}
}

// apply runs the outbound transition table for one client event and reports
// whether the UI-level status changed. The event is recorded as the
// session's last event except on Cancelled, which clears it to allow retry.
func (o *Outbound) apply(ev protocol.Event) bool {
	prev := o.status
	o.lastEvent = &ev

	switch ev.State {
	case protocol.StateSentUkeyClientInit,
		protocol.StateSentUkeyClientFinish,
		protocol.StateSentIntroduction:
		// Consent requested on the remote side; the pin code becomes
		// available here. Payload length is not known yet.
		o.status = StatusRequested
		o.est.PrepareForNewTransfer(eta.KeepTotal)
	case protocol.StateSendingFiles:
		o.status = StatusOngoing
		if ev.Meta != nil {
			o.est.StepWith(ev.Meta.AckBytes)
		}
	case protocol.StateDisconnected:
		o.status = StatusFailed
	case protocol.StateRejected:
		// The engine does not distinguish a remote decline from other
		// failures on the outbound side; both collapse to Failed.
		o.status = StatusFailed
	case protocol.StateCancelled:
		o.status = StatusIdle
		o.lastEvent = nil
	case protocol.StateFinished:
		o.status = StatusDone
	}

	if o.status != prev {
		logrus.WithFields(logrus.Fields{
			"function":    "apply",
			"endpoint_id": o.id,
			"event_state": ev.State.String(),
			"from":        prev.String(),
			"to":          o.status.String(),
		}).Info("Outbound session status changed")
		return true
	}
	return false
}

// pinCode returns the verification code from the last event, if any.
func (o *Outbound) pinCode() string {
	if o.lastEvent == nil {
		return ""
	}
	return o.lastEvent.PinCode()
}

// progress returns the acknowledged fraction of the payload in [0, 1].
func (o *Outbound) progress() float64 {
	if o.lastEvent == nil || o.lastEvent.Meta == nil || o.lastEvent.Meta.TotalBytes <= 0 {
		return 0
	}
	return float64(o.lastEvent.Meta.AckBytes) / float64(o.lastEvent.Meta.TotalBytes)
}

// view builds an immutable snapshot for observers and the presentation
// layer.
func (o *Outbound) view() OutboundView {
	return OutboundView{
		ID:       o.id,
		Endpoint: o.endpoint,
		Status:   o.status,
		Files:    append([]string(nil), o.files...),
		PinCode:  o.pinCode(),
		Progress: o.progress(),
		Eta:      o.est.String(),
	}
}

// OutboundView is a point-in-time snapshot of an outbound session, safe to
// hand across goroutines.
type OutboundView struct {
	ID       string
	Endpoint protocol.EndpointInfo
	Status   Status
	Files    []string
	PinCode  string
	Progress float64
	Eta      string
}
