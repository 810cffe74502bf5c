// Package notify delivers transfer milestones to the desktop user. The
// coordinator talks to a Notifier interface so tests and headless builds can
// swap in silent implementations.
package notify

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Kind classifies a notification so frontends can pick urgency and actions.
type Kind uint8

const (
	// KindConsentRequest asks the user to accept or decline an incoming
	// transfer. It carries the pin code and expires with the consent window.
	KindConsentRequest Kind = iota
	// KindTransferDone announces a successfully finished inbound transfer.
	KindTransferDone
	// KindTransferFailed announces an inbound transfer that ended in
	// disconnection or rejection.
	KindTransferFailed
	// KindCancelledBySender announces that the remote side aborted a transfer
	// this user had accepted.
	KindCancelledBySender
	// KindConsentTimedOut announces that an incoming request expired without
	// a user decision and was declined automatically.
	KindConsentTimedOut
)

// String returns a human-readable name for the notification kind.
func (k Kind) String() string {
	switch k {
	case KindConsentRequest:
		return "ConsentRequest"
	case KindTransferDone:
		return "TransferDone"
	case KindTransferFailed:
		return "TransferFailed"
	case KindCancelledBySender:
		return "CancelledBySender"
	case KindConsentTimedOut:
		return "ConsentTimedOut"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Notification is one message posted to the user. ID is stable for the
// notification's lifetime and is used to withdraw it and to correlate action
// responses back to the transfer that posted it.
type Notification struct {
	ID         string
	Kind       Kind
	Title      string
	Body       string
	TransferID string
	PinCode    string
}

// Notifier posts and withdraws user notifications. Implementations must be
// safe for concurrent use; the router calls them from its apply loop while
// facade operations may withdraw concurrently.
type Notifier interface {
	Post(n Notification)
	Withdraw(id string)
}

// Noop discards all notifications. Useful for tests and embedding contexts
// that render state directly.
type Noop struct{}

func (Noop) Post(Notification) {}
func (Noop) Withdraw(string)   {}

// Logger writes notifications to the structured log instead of a desktop
// service. It is the default when no frontend notifier is configured.
type Logger struct{}

func (Logger) Post(n Notification) {
	logrus.WithFields(logrus.Fields{
		"function":        "Post",
		"notification_id": n.ID,
		"kind":            n.Kind.String(),
		"transfer_id":     n.TransferID,
		"title":           n.Title,
	}).Info("Notification posted")
}

func (Logger) Withdraw(id string) {
	logrus.WithFields(logrus.Fields{
		"function":        "Withdraw",
		"notification_id": id,
	}).Debug("Notification withdrawn")
}
