package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rysete/packet/eta"
	"github.com/rysete/packet/protocol"
	"github.com/sirupsen/logrus"
)

// ErrConsentAlreadyGiven indicates a second consent decision for the same
// inbound request; the user action is write-once per lifecycle phase.
var ErrConsentAlreadyGiven = errors.New("consent already given for this transfer")

// ErrTransferNotAccepted indicates a cancel attempt on an inbound transfer
// that was never accepted.
var ErrTransferNotAccepted = errors.New("transfer was not accepted")

// UserAction is the user's decision on an inbound transfer.
type UserAction uint8

const (
	// UserActionNone means no decision has been made yet.
	UserActionNone UserAction = iota
	// UserActionConsentAccept approves the incoming request.
	UserActionConsentAccept
	// UserActionConsentDecline rejects the incoming request.
	UserActionConsentDecline
	// UserActionTransferCancel aborts an accepted transfer in progress.
	UserActionTransferCancel
)

// String returns a human-readable name for the user action.
func (a UserAction) String() string {
	switch a {
	case UserActionNone:
		return "None"
	case UserActionConsentAccept:
		return "ConsentAccept"
	case UserActionConsentDecline:
		return "ConsentDecline"
	case UserActionTransferCancel:
		return "TransferCancel"
	default:
		return fmt.Sprintf("UserAction(%d)", uint8(a))
	}
}

// Action maps the user decision onto the engine's action sink value.
func (a UserAction) Action() (protocol.Action, bool) {
	switch a {
	case UserActionConsentAccept:
		return protocol.ActionConsentAccept, true
	case UserActionConsentDecline:
		return protocol.ActionConsentDecline, true
	case UserActionTransferCancel:
		return protocol.ActionTransferCancel, true
	}
	return 0, false
}

// Inbound is the single-slot state for the at most one incoming transfer.
// Fields are only mutated by the Store while it holds its lock.
type Inbound struct {
	transferID     string
	notificationID string

	lastEvent     protocol.Event
	userAction    UserAction
	userCancelled bool
	est           *eta.Estimator

	// autoDeclineCancel stops the consent-timeout race. Context cancellation
	// is idempotent, so cancelling an already settled race is a no-op.
	autoDeclineCancel context.CancelFunc
}

func newInbound(ev protocol.Event, notificationID string) *Inbound {
	s := &Inbound{
		transferID:     ev.TransferID,
		notificationID: notificationID,
		lastEvent:      ev,
		userAction:     UserActionNone,
		est:            eta.New(0),
	}
	if ev.Meta != nil {
		s.est.PrepareForNewTransfer(ev.Meta.TotalBytes)
	}
	return s
}

// armAutoDecline starts the race between the consent timeout and the cancel
// handle. When the timer wins, onTimeout runs once; it must re-check the
// user action under the store lock before synthesizing the decline.
func (s *Inbound) armAutoDecline(timeout time.Duration, onTimeout func()) {
	ctx, cancel := context.WithCancel(context.Background())
	s.autoDeclineCancel = cancel

	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-timer.C:
			logrus.WithFields(logrus.Fields{
				"function":    "armAutoDecline",
				"transfer_id": s.transferID,
				"timeout":     timeout,
			}).Info("Consent window elapsed")
			onTimeout()
		case <-ctx.Done():
		}
	}()
}

// cancelAutoDecline settles the race in favour of the cancel handle. Safe to
// call any number of times, including before the race was armed.
func (s *Inbound) cancelAutoDecline() {
	if s.autoDeclineCancel != nil {
		s.autoDeclineCancel()
	}
}

// setUserAction enforces the write-once rule: the first decision must be an
// accept or decline, and only an accepted transfer may later be cancelled.
func (s *Inbound) setUserAction(action UserAction) error {
	switch action {
	case UserActionConsentAccept, UserActionConsentDecline:
		if s.userAction != UserActionNone {
			return ErrConsentAlreadyGiven
		}
	case UserActionTransferCancel:
		if s.userAction != UserActionConsentAccept {
			return ErrTransferNotAccepted
		}
		// Remember that the upcoming Cancelled event is ours, so it is not
		// surfaced as a sender-initiated cancellation.
		s.userCancelled = true
	default:
		return fmt.Errorf("invalid user action %s", action)
	}

	s.userAction = action
	s.cancelAutoDecline()

	logrus.WithFields(logrus.Fields{
		"function":    "setUserAction",
		"transfer_id": s.transferID,
		"action":      action.String(),
	}).Info("Inbound user action recorded")

	return nil
}

// apply records a client event for the inbound transfer and steps the
// estimator while data is flowing.
func (s *Inbound) apply(ev protocol.Event) {
	s.lastEvent = ev
	if ev.State == protocol.StateReceivingFiles && ev.Meta != nil {
		s.est.StepWith(ev.Meta.AckBytes)
	}
}

// view builds an immutable snapshot for observers and the presentation
// layer.
func (s *Inbound) view() InboundView {
	v := InboundView{
		TransferID:     s.transferID,
		NotificationID: s.notificationID,
		State:          s.lastEvent.State,
		UserAction:     s.userAction,
		UserCancelled:  s.userCancelled,
		PinCode:        s.lastEvent.PinCode(),
		SourceName:     s.lastEvent.SourceName("Unknown device"),
		Eta:            s.est.String(),
	}
	if meta := s.lastEvent.Meta; meta != nil {
		v.PayloadKind = meta.PayloadKind
		v.Files = append([]string(nil), meta.Files...)
		v.TextPreview = meta.TextPreview
		v.Text = meta.Text
		v.TotalBytes = meta.TotalBytes
		if meta.TotalBytes > 0 {
			v.Progress = float64(meta.AckBytes) / float64(meta.TotalBytes)
		}
	}
	return v
}

// InboundView is a point-in-time snapshot of the inbound session.
type InboundView struct {
	TransferID     string
	NotificationID string
	State          protocol.TransferState
	UserAction     UserAction
	UserCancelled  bool
	PinCode        string
	SourceName     string
	PayloadKind    protocol.PayloadKind
	Files          []string
	TextPreview    string
	Text           string
	TotalBytes     int64
	Progress       float64
	Eta            string
}
