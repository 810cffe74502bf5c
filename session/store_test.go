package session

import (
	"errors"
	"testing"
	"time"

	"github.com/rysete/packet/protocol"
)

func TestUpsertEndpointDeduplicatesByID(t *testing.T) {
	st := NewStore()

	_, created := st.UpsertEndpoint(testEndpoint("dev1"))
	if !created {
		t.Fatal("first upsert should create a session")
	}

	updated := testEndpoint("dev1")
	updated.Name = "Pixel 7 Pro"
	_, created = st.UpsertEndpoint(updated)
	if created {
		t.Error("second upsert for the same id should update, not create")
	}

	views := st.List()
	if len(views) != 1 {
		t.Fatalf("List length = %d, want 1", len(views))
	}
	if views[0].Endpoint.Name != "Pixel 7 Pro" {
		t.Errorf("endpoint name = %q, want updated snapshot", views[0].Endpoint.Name)
	}
}

func TestUpsertEndpointNewestFirstOrder(t *testing.T) {
	st := NewStore()
	st.UpsertEndpoint(testEndpoint("dev1"))
	st.UpsertEndpoint(testEndpoint("dev2"))

	views := st.List()
	if len(views) != 2 {
		t.Fatalf("List length = %d, want 2", len(views))
	}
	if views[0].ID != "dev2" || views[1].ID != "dev1" {
		t.Errorf("order = [%s %s], want newest first", views[0].ID, views[1].ID)
	}
}

func TestBeginSendUnknownEndpoint(t *testing.T) {
	st := NewStore()

	if _, err := st.BeginSend("ghost", nil, 0); !errors.Is(err, ErrUnknownEndpoint) {
		t.Errorf("error = %v, want %v", err, ErrUnknownEndpoint)
	}
}

func TestBeginSendQueuesBehindActiveTransfer(t *testing.T) {
	st := NewStore()
	st.UpsertEndpoint(testEndpoint("dev1"))
	st.UpsertEndpoint(testEndpoint("dev2"))

	// dev1 reaches the requested state and holds the single transfer slot.
	st.ApplyOutbound(clientEvent("dev1", protocol.StateSentUkeyClientInit, nil))

	queued, err := st.BeginSend("dev2", []string{"a.txt"}, 10)
	if err != nil {
		t.Fatalf("BeginSend: %v", err)
	}
	if !queued {
		t.Error("send to dev2 should queue while dev1 is requested")
	}

	v, _ := st.Get("dev2")
	if v.Status != StatusQueued {
		t.Errorf("dev2 status = %s, want %s", v.Status, StatusQueued)
	}
}

func TestBeginSendDoesNotQueueBehindSettledSessions(t *testing.T) {
	st := NewStore()
	st.UpsertEndpoint(testEndpoint("dev1"))
	st.UpsertEndpoint(testEndpoint("dev2"))

	st.ApplyOutbound(clientEvent("dev1", protocol.StateFinished, nil))

	queued, err := st.BeginSend("dev2", []string{"a.txt"}, 10)
	if err != nil {
		t.Fatalf("BeginSend: %v", err)
	}
	if queued {
		t.Error("send should not queue behind a finished transfer")
	}
}

func TestApplyOutboundDropsUnknownID(t *testing.T) {
	st := NewStore()
	st.UpsertEndpoint(testEndpoint("dev1"))

	before := st.List()
	_, applied := st.ApplyOutbound(clientEvent("ghost", protocol.StateSendingFiles, nil))
	if applied {
		t.Error("event for unknown id should be dropped")
	}

	after := st.List()
	if len(after) != len(before) || after[0].Status != before[0].Status {
		t.Error("dropped event must leave existing sessions unchanged")
	}
}

func TestRefreshRemovesOnlySettledSessions(t *testing.T) {
	st := NewStore()
	st.UpsertEndpoint(testEndpoint("idle"))
	st.UpsertEndpoint(testEndpoint("failed"))
	st.UpsertEndpoint(testEndpoint("done"))
	st.UpsertEndpoint(testEndpoint("requested"))
	st.UpsertEndpoint(testEndpoint("ongoing"))
	st.UpsertEndpoint(testEndpoint("queued"))

	st.ApplyOutbound(clientEvent("failed", protocol.StateDisconnected, nil))
	st.ApplyOutbound(clientEvent("done", protocol.StateFinished, nil))
	st.ApplyOutbound(clientEvent("requested", protocol.StateSentIntroduction, nil))
	st.ApplyOutbound(clientEvent("ongoing", protocol.StateSendingFiles, nil))
	if _, err := st.BeginSend("queued", nil, 0); err != nil {
		t.Fatalf("BeginSend: %v", err)
	}

	removed := st.Refresh()
	if len(removed) != 3 {
		t.Fatalf("removed %d sessions, want 3", len(removed))
	}

	left := make(map[string]bool)
	for _, v := range st.List() {
		left[v.ID] = true
	}
	for _, id := range []string{"requested", "ongoing", "queued"} {
		if !left[id] {
			t.Errorf("active session %s was removed by refresh", id)
		}
	}
	for _, id := range []string{"idle", "failed", "done"} {
		if left[id] {
			t.Errorf("settled session %s survived refresh", id)
		}
	}
}

func TestAnyTransferActive(t *testing.T) {
	st := NewStore()
	st.UpsertEndpoint(testEndpoint("dev1"))

	if st.AnyTransferActive() {
		t.Fatal("no transfer should be active on a fresh store")
	}

	st.ApplyOutbound(clientEvent("dev1", protocol.StateSendingFiles, nil))
	if !st.AnyTransferActive() {
		t.Error("ongoing outbound transfer not reported as active")
	}

	st.ApplyOutbound(clientEvent("dev1", protocol.StateFinished, nil))
	if st.AnyTransferActive() {
		t.Error("finished transfer still reported as active")
	}

	if _, err := st.BeginInbound(consentEvent("t1"), "n1"); err != nil {
		t.Fatalf("BeginInbound: %v", err)
	}
	if !st.AnyTransferActive() {
		t.Error("occupied inbound slot not reported as active")
	}
}

func TestBeginInboundRefusesOccupiedSlot(t *testing.T) {
	st := NewStore()

	if _, err := st.BeginInbound(consentEvent("t1"), "n1"); err != nil {
		t.Fatalf("first BeginInbound: %v", err)
	}
	if _, err := st.BeginInbound(consentEvent("t2"), "n2"); !errors.Is(err, ErrInboundBusy) {
		t.Errorf("error = %v, want %v", err, ErrInboundBusy)
	}

	v, ok := st.Inbound()
	if !ok || v.TransferID != "t1" {
		t.Errorf("slot = %q, want original transfer t1", v.TransferID)
	}
}

func TestApplyInboundGatedOnTransferID(t *testing.T) {
	st := NewStore()
	st.BeginInbound(consentEvent("t1"), "n1")

	// A terminal event for a different id must not release the slot.
	_, released, applied := st.ApplyInbound(protocol.Event{
		TransferID: "t2",
		Kind:       protocol.KindClient,
		State:      protocol.StateCancelled,
	})
	if applied || released {
		t.Error("event for a different transfer id must be dropped")
	}
	if _, ok := st.Inbound(); !ok {
		t.Error("slot was released by a mismatched event")
	}
}

func TestApplyInboundTerminalReleasesSlot(t *testing.T) {
	terminals := []protocol.TransferState{
		protocol.StateDisconnected,
		protocol.StateRejected,
		protocol.StateCancelled,
		protocol.StateFinished,
	}

	for _, state := range terminals {
		t.Run(state.String(), func(t *testing.T) {
			st := NewStore()
			st.BeginInbound(consentEvent("t1"), "n1")

			_, released, applied := st.ApplyInbound(protocol.Event{
				TransferID: "t1",
				Kind:       protocol.KindClient,
				State:      state,
			})
			if !applied || !released {
				t.Fatalf("applied=%v released=%v, want true/true", applied, released)
			}
			if _, ok := st.Inbound(); ok {
				t.Error("slot still occupied after terminal state")
			}

			// The slot is free for the next request.
			if _, err := st.BeginInbound(consentEvent("t2"), "n2"); err != nil {
				t.Errorf("BeginInbound after release: %v", err)
			}
		})
	}
}

func TestSetInboundActionEmptySlot(t *testing.T) {
	st := NewStore()

	if _, err := st.SetInboundAction(UserActionConsentAccept); !errors.Is(err, ErrNoInboundTransfer) {
		t.Errorf("error = %v, want %v", err, ErrNoInboundTransfer)
	}
}

func TestAutoDeclineFiresWhenUserSilent(t *testing.T) {
	st := NewStore()
	st.BeginInbound(consentEvent("t1"), "n1")

	fired := make(chan InboundView, 1)
	st.ArmAutoDecline(20*time.Millisecond, func(v InboundView) {
		fired <- v
	})

	select {
	case v := <-fired:
		if v.UserAction != UserActionConsentDecline {
			t.Errorf("UserAction = %s, want synthesized decline", v.UserAction)
		}
	case <-time.After(time.Second):
		t.Fatal("auto-decline never fired")
	}
}

func TestUserAcceptBeatsAutoDecline(t *testing.T) {
	st := NewStore()
	st.BeginInbound(consentEvent("t1"), "n1")

	fired := make(chan InboundView, 1)
	st.ArmAutoDecline(30*time.Millisecond, func(v InboundView) {
		fired <- v
	})

	v, err := st.SetInboundAction(UserActionConsentAccept)
	if err != nil {
		t.Fatalf("SetInboundAction: %v", err)
	}
	if v.UserAction != UserActionConsentAccept {
		t.Fatalf("UserAction = %s, want accept", v.UserAction)
	}

	select {
	case <-fired:
		t.Error("auto-decline fired after the user already accepted")
	case <-time.After(100 * time.Millisecond):
	}

	cur, ok := st.Inbound()
	if !ok || cur.UserAction != UserActionConsentAccept {
		t.Errorf("slot action = %s, want accept preserved", cur.UserAction)
	}
}

func TestAutoDeclineSkipsSupersededTransfer(t *testing.T) {
	st := NewStore()
	st.BeginInbound(consentEvent("t1"), "n1")

	fired := make(chan InboundView, 1)
	st.ArmAutoDecline(20*time.Millisecond, func(v InboundView) {
		fired <- v
	})

	// t1 terminates and a new request takes the slot before the timer fires.
	st.ApplyInbound(protocol.Event{TransferID: "t1", Kind: protocol.KindClient, State: protocol.StateCancelled})
	st.BeginInbound(consentEvent("t2"), "n2")

	select {
	case <-fired:
		t.Error("stale auto-decline affected a newer transfer")
	case <-time.After(100 * time.Millisecond):
	}

	cur, ok := st.Inbound()
	if !ok || cur.UserAction != UserActionNone {
		t.Errorf("t2 action = %s, want untouched", cur.UserAction)
	}
}

func TestObserversReceiveSnapshots(t *testing.T) {
	st := NewStore()

	var outboundSeen []OutboundView
	var inboundSeen []InboundView
	st.OnOutboundChange(func(v OutboundView) { outboundSeen = append(outboundSeen, v) })
	st.OnInboundChange(func(v InboundView) { inboundSeen = append(inboundSeen, v) })

	st.UpsertEndpoint(testEndpoint("dev1"))
	st.ApplyOutbound(clientEvent("dev1", protocol.StateSendingFiles, nil))
	st.BeginInbound(consentEvent("t1"), "n1")

	if len(outboundSeen) != 2 {
		t.Errorf("outbound notifications = %d, want 2", len(outboundSeen))
	}
	if len(inboundSeen) != 1 {
		t.Errorf("inbound notifications = %d, want 1", len(inboundSeen))
	}
	if len(outboundSeen) == 2 && outboundSeen[1].Status != StatusOngoing {
		t.Errorf("second outbound snapshot status = %s, want %s", outboundSeen[1].Status, StatusOngoing)
	}
}
