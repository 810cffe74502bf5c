package session

import (
	"errors"
	"testing"

	"github.com/rysete/packet/protocol"
)

func consentEvent(id string) protocol.Event {
	return protocol.Event{
		TransferID: id,
		Kind:       protocol.KindClient,
		Direction:  protocol.DirectionInbound,
		State:      protocol.StateWaitingForUserConsent,
		Meta: &protocol.Metadata{
			TotalBytes:  4096,
			PinCode:     "7713",
			Source:      "Galaxy S23",
			PayloadKind: protocol.PayloadFiles,
			Files:       []string{"IMG_0001.jpg", "IMG_0002.jpg"},
		},
	}
}

func TestSetUserActionWriteOnce(t *testing.T) {
	tests := []struct {
		name    string
		first   UserAction
		second  UserAction
		wantErr error
	}{
		{"accept_then_accept", UserActionConsentAccept, UserActionConsentAccept, ErrConsentAlreadyGiven},
		{"accept_then_decline", UserActionConsentAccept, UserActionConsentDecline, ErrConsentAlreadyGiven},
		{"decline_then_accept", UserActionConsentDecline, UserActionConsentAccept, ErrConsentAlreadyGiven},
		{"decline_then_cancel", UserActionConsentDecline, UserActionTransferCancel, ErrTransferNotAccepted},
		{"accept_then_cancel", UserActionConsentAccept, UserActionTransferCancel, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newInbound(consentEvent("t1"), "n1")

			if err := s.setUserAction(tt.first); err != nil {
				t.Fatalf("first action %s: unexpected error %v", tt.first, err)
			}
			err := s.setUserAction(tt.second)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("second action %s: error = %v, want %v", tt.second, err, tt.wantErr)
			}
		})
	}
}

func TestCancelBeforeAcceptRefused(t *testing.T) {
	s := newInbound(consentEvent("t1"), "n1")

	if err := s.setUserAction(UserActionTransferCancel); !errors.Is(err, ErrTransferNotAccepted) {
		t.Errorf("error = %v, want %v", err, ErrTransferNotAccepted)
	}
	if s.userAction != UserActionNone {
		t.Errorf("userAction = %s, want None after refused cancel", s.userAction)
	}
}

func TestUserCancelledFlagSetOnCancel(t *testing.T) {
	s := newInbound(consentEvent("t1"), "n1")

	if err := s.setUserAction(UserActionConsentAccept); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if s.userCancelled {
		t.Fatal("userCancelled set before cancel")
	}
	if err := s.setUserAction(UserActionTransferCancel); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !s.userCancelled {
		t.Error("userCancelled not set; a sender-cancelled notice would wrongly appear")
	}
}

func TestInboundApplyStepsEstimatorWhileReceiving(t *testing.T) {
	s := newInbound(consentEvent("t1"), "n1")

	s.apply(protocol.Event{
		TransferID: "t1",
		Kind:       protocol.KindClient,
		Direction:  protocol.DirectionInbound,
		State:      protocol.StateReceivingFiles,
		Meta:       &protocol.Metadata{TotalBytes: 4096, AckBytes: 1024},
	})

	if got := s.est.TotalTransferred(); got != 1024 {
		t.Errorf("TotalTransferred = %d, want 1024", got)
	}
	if got := s.view().Progress; got != 0.25 {
		t.Errorf("Progress = %f, want 0.25", got)
	}
}

func TestInboundViewCarriesConsentDetails(t *testing.T) {
	s := newInbound(consentEvent("t1"), "n1")
	v := s.view()

	if v.TransferID != "t1" {
		t.Errorf("TransferID = %q, want t1", v.TransferID)
	}
	if v.NotificationID != "n1" {
		t.Errorf("NotificationID = %q, want n1", v.NotificationID)
	}
	if v.PinCode != "7713" {
		t.Errorf("PinCode = %q, want 7713", v.PinCode)
	}
	if v.SourceName != "Galaxy S23" {
		t.Errorf("SourceName = %q, want Galaxy S23", v.SourceName)
	}
	if len(v.Files) != 2 {
		t.Errorf("Files length = %d, want 2", len(v.Files))
	}
}

func TestInboundViewFallsBackOnSourceName(t *testing.T) {
	ev := consentEvent("t1")
	ev.Meta.Source = ""
	s := newInbound(ev, "n1")

	if got := s.view().SourceName; got != "Unknown device" {
		t.Errorf("SourceName = %q, want fallback", got)
	}
}
