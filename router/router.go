// Package router consumes the engine's transfer event stream and drives the
// session store, consent notifications, and the auto-decline timeout.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rysete/packet/notify"
	"github.com/rysete/packet/protocol"
	"github.com/rysete/packet/session"
	"github.com/sirupsen/logrus"
)

// DefaultConsentTimeout is how long an incoming request waits for a user
// decision before it is declined automatically.
const DefaultConsentTimeout = 60 * time.Second

// Config wires the router's collaborators. SendAction forwards a user or
// synthesized decision to the engine's action sink.
type Config struct {
	Store          *session.Store
	Notifier       notify.Notifier
	ConsentTimeout time.Duration
	SendAction     func(transferID string, action protocol.Action)
}

// Router applies engine events to session state. All dispatching happens on
// the single goroutine running Run, so events are consumed in order.
type Router struct {
	store          *session.Store
	notifier       notify.Notifier
	consentTimeout time.Duration
	sendAction     func(transferID string, action protocol.Action)
}

// New creates a router. A nil notifier falls back to discarding
// notifications; a zero timeout falls back to DefaultConsentTimeout.
func New(cfg Config) *Router {
	r := &Router{
		store:          cfg.Store,
		notifier:       cfg.Notifier,
		consentTimeout: cfg.ConsentTimeout,
		sendAction:     cfg.SendAction,
	}
	if r.notifier == nil {
		r.notifier = notify.Noop{}
	}
	if r.consentTimeout <= 0 {
		r.consentTimeout = DefaultConsentTimeout
	}
	if r.sendAction == nil {
		r.sendAction = func(string, protocol.Action) {}
	}
	return r
}

// Run consumes events until the context is cancelled or the stream closes.
func (r *Router) Run(ctx context.Context, events <-chan protocol.Event) {
	logrus.WithFields(logrus.Fields{
		"function": "Run",
	}).Info("Event router started")

	for {
		select {
		case <-ctx.Done():
			logrus.WithFields(logrus.Fields{
				"function": "Run",
			}).Info("Event router stopped by context")
			return
		case ev, ok := <-events:
			if !ok {
				logrus.WithFields(logrus.Fields{
					"function": "Run",
				}).Info("Event stream closed")
				return
			}
			r.Dispatch(ev)
		}
	}
}

// Dispatch routes one event. Engine-internal messages are discarded without
// side effects. A consent request opens the inbound slot regardless of its
// direction tag; every other client event routes by direction, inbound to
// the slot (gated on id match) and outbound to the registry.
func (r *Router) Dispatch(ev protocol.Event) {
	if !ev.IsClient() {
		logrus.WithFields(logrus.Fields{
			"function":    "Dispatch",
			"transfer_id": ev.TransferID,
			"state":       ev.State.String(),
		}).Debug("Discarding engine-internal message")
		return
	}

	if ev.State == protocol.StateWaitingForUserConsent {
		r.handleConsentRequest(ev)
		return
	}

	// Past the consent request the direction tag is authoritative: inbound
	// ids and outbound endpoint ids are separate id spaces, and an event must
	// never cross into the other one's state.
	if ev.Direction == protocol.DirectionInbound {
		if v, released, applied := r.store.ApplyInbound(ev); applied && released {
			r.finishInbound(ev, v)
		}
		return
	}

	r.store.ApplyOutbound(ev)
}

// handleConsentRequest opens the single inbound slot, posts the consent
// notification, and arms the auto-decline race.
func (r *Router) handleConsentRequest(ev protocol.Event) {
	notificationID := uuid.New().String()

	v, err := r.store.BeginInbound(ev, notificationID)
	if err != nil {
		// A second request while a transfer is live gets declined outright
		// rather than displacing the slot.
		logrus.WithFields(logrus.Fields{
			"function":    "handleConsentRequest",
			"transfer_id": ev.TransferID,
			"error":       err,
		}).Warn("Declining concurrent inbound request")
		r.sendAction(ev.TransferID, protocol.ActionConsentDecline)
		return
	}

	r.notifier.Post(notify.Notification{
		ID:         notificationID,
		Kind:       notify.KindConsentRequest,
		Title:      fmt.Sprintf("%s wants to share", v.SourceName),
		Body:       describePayload(v),
		TransferID: v.TransferID,
		PinCode:    v.PinCode,
	})

	r.store.ArmAutoDecline(r.consentTimeout, func(timedOut session.InboundView) {
		r.notifier.Withdraw(timedOut.NotificationID)
		r.sendAction(timedOut.TransferID, protocol.ActionConsentDecline)
		r.notifier.Post(notify.Notification{
			ID:         uuid.New().String(),
			Kind:       notify.KindConsentTimedOut,
			Title:      fmt.Sprintf("Request from %s timed out", timedOut.SourceName),
			TransferID: timedOut.TransferID,
		})
	})
}

// finishInbound withdraws the consent notification and posts the terminal
// milestone once the slot is released.
func (r *Router) finishInbound(ev protocol.Event, v session.InboundView) {
	r.notifier.Withdraw(v.NotificationID)

	switch ev.State {
	case protocol.StateFinished:
		r.notifier.Post(notify.Notification{
			ID:         uuid.New().String(),
			Kind:       notify.KindTransferDone,
			Title:      fmt.Sprintf("Received from %s", v.SourceName),
			Body:       describePayload(v),
			TransferID: v.TransferID,
		})
	case protocol.StateDisconnected, protocol.StateRejected:
		r.notifier.Post(notify.Notification{
			ID:         uuid.New().String(),
			Kind:       notify.KindTransferFailed,
			Title:      fmt.Sprintf("Transfer from %s failed", v.SourceName),
			TransferID: v.TransferID,
		})
	case protocol.StateCancelled:
		// A cancellation the user asked for needs no notice.
		if !v.UserCancelled {
			r.notifier.Post(notify.Notification{
				ID:         uuid.New().String(),
				Kind:       notify.KindCancelledBySender,
				Title:      fmt.Sprintf("%s cancelled the transfer", v.SourceName),
				TransferID: v.TransferID,
			})
		}
	}
}

func describePayload(v session.InboundView) string {
	if v.PayloadKind.IsText() {
		if v.TextPreview != "" {
			return v.TextPreview
		}
		return "Text"
	}
	if n := len(v.Files); n == 1 {
		return v.Files[0]
	} else if n > 1 {
		return fmt.Sprintf("%d files", n)
	}
	return "Files"
}
