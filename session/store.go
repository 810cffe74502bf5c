package session

import (
	"errors"
	"sync"
	"time"

	"github.com/rysete/packet/protocol"
	"github.com/sirupsen/logrus"
)

// ErrUnknownEndpoint indicates an operation on an endpoint id with no
// outbound session, usually because the recipient list was refreshed.
var ErrUnknownEndpoint = errors.New("no session for endpoint")

// ErrNoInboundTransfer indicates a consent or cancel operation while the
// inbound slot is empty.
var ErrNoInboundTransfer = errors.New("no inbound transfer")

// ErrInboundBusy indicates an incoming request while another inbound
// transfer is still pending or running. The slot is released only through
// terminal protocol states.
var ErrInboundBusy = errors.New("inbound transfer already in progress")

// Store owns every session. One mutex guards the id-keyed outbound registry,
// the ordered presentation list, and the single inbound slot, so the event
// apply loop and facade operations always observe consistent state.
//
// Observer callbacks fire after the lock is released and must be registered
// before events start flowing.
type Store struct {
	mu       sync.Mutex
	outbound map[string]*Outbound
	order    []string
	inbound  *Inbound

	onOutbound []func(OutboundView)
	onInbound  []func(InboundView)
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		outbound: make(map[string]*Outbound),
	}
}

// OnOutboundChange registers an observer for outbound session snapshots.
func (st *Store) OnOutboundChange(fn func(OutboundView)) {
	st.onOutbound = append(st.onOutbound, fn)
}

// OnInboundChange registers an observer for inbound session snapshots.
func (st *Store) OnInboundChange(fn func(InboundView)) {
	st.onInbound = append(st.onInbound, fn)
}

func (st *Store) notifyOutbound(v OutboundView) {
	for _, fn := range st.onOutbound {
		fn(v)
	}
}

func (st *Store) notifyInbound(v InboundView) {
	for _, fn := range st.onInbound {
		fn(v)
	}
}

// UpsertEndpoint records a discovery feed entry. A repeated id updates the
// existing session's endpoint snapshot in place; a new id creates an idle
// session at the front of the presentation order. Reports whether a session
// was created.
func (st *Store) UpsertEndpoint(info protocol.EndpointInfo) (OutboundView, bool) {
	st.mu.Lock()
	o, exists := st.outbound[info.ID]
	if exists {
		o.endpoint = info
	} else {
		o = newOutbound(info)
		st.outbound[info.ID] = o
		st.order = append([]string{info.ID}, st.order...)
	}
	v := o.view()
	st.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "UpsertEndpoint",
		"endpoint_id": info.ID,
		"name":        info.Name,
		"created":     !exists,
	}).Debug("Endpoint upserted into session store")

	st.notifyOutbound(v)
	return v, !exists
}

// BeginSend snapshots the file set into the endpoint's session and decides
// whether the attempt must queue behind another transfer. The protocol
// allows one concurrent transfer, so the session queues when any other
// session holds the requested or ongoing state.
func (st *Store) BeginSend(endpointID string, files []string, totalSize int64) (queued bool, err error) {
	st.mu.Lock()
	o, ok := st.outbound[endpointID]
	if !ok {
		st.mu.Unlock()
		return false, ErrUnknownEndpoint
	}

	o.files = append([]string(nil), files...)
	if o.est.TotalLen() == 0 {
		o.est.PrepareForNewTransfer(totalSize)
	}

	for id, other := range st.outbound {
		if id == endpointID {
			continue
		}
		if other.status == StatusRequested || other.status == StatusOngoing {
			queued = true
			break
		}
	}

	var v OutboundView
	if queued {
		o.status = StatusQueued
		v = o.view()
	}
	st.mu.Unlock()

	if queued {
		logrus.WithFields(logrus.Fields{
			"function":    "BeginSend",
			"endpoint_id": endpointID,
		}).Info("Send queued behind an active transfer")
		st.notifyOutbound(v)
	}
	return queued, nil
}

// ApplyOutbound routes a client event to the outbound session with the
// event's transfer id. Events for absent ids are dropped silently; the
// session may have been refreshed away. Reports whether a session consumed
// the event.
func (st *Store) ApplyOutbound(ev protocol.Event) (OutboundView, bool) {
	st.mu.Lock()
	o, ok := st.outbound[ev.TransferID]
	if !ok {
		st.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":    "ApplyOutbound",
			"transfer_id": ev.TransferID,
			"state":       ev.State.String(),
		}).Debug("Dropping event for unknown outbound session")
		return OutboundView{}, false
	}
	o.apply(ev)
	v := o.view()
	st.mu.Unlock()

	st.notifyOutbound(v)
	return v, true
}

// List returns snapshots of every outbound session in presentation order.
func (st *Store) List() []OutboundView {
	st.mu.Lock()
	defer st.mu.Unlock()

	views := make([]OutboundView, 0, len(st.order))
	for _, id := range st.order {
		if o, ok := st.outbound[id]; ok {
			views = append(views, o.view())
		}
	}
	return views
}

// Get returns the snapshot for one endpoint id.
func (st *Store) Get(endpointID string) (OutboundView, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	o, ok := st.outbound[endpointID]
	if !ok {
		return OutboundView{}, false
	}
	return o.view(), true
}

// Refresh drops every settled outbound session (idle, failed, or done) from
// both the registry and the presentation order in one critical section.
// Queued, requested, and ongoing sessions survive. Returns the snapshots of
// the removed sessions.
func (st *Store) Refresh() []OutboundView {
	st.mu.Lock()

	var removed []OutboundView
	kept := st.order[:0]
	for _, id := range st.order {
		o, ok := st.outbound[id]
		if !ok {
			continue
		}
		if o.status.removable() {
			removed = append(removed, o.view())
			delete(st.outbound, id)
		} else {
			kept = append(kept, id)
		}
	}
	st.order = kept
	st.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Refresh",
		"removed":  len(removed),
	}).Info("Refreshed recipient sessions")

	return removed
}

// AnyTransferActive reports whether any outbound session is queued,
// requested, or ongoing, or the inbound slot is occupied.
func (st *Store) AnyTransferActive() bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.inbound != nil {
		return true
	}
	for _, o := range st.outbound {
		if o.status.Active() {
			return true
		}
	}
	return false
}

// BeginInbound installs a new inbound session for a consent request. The
// slot must be free: it is released only by terminal protocol states, so a
// second concurrent request is refused rather than overwriting a live
// transfer.
func (st *Store) BeginInbound(ev protocol.Event, notificationID string) (InboundView, error) {
	st.mu.Lock()
	if st.inbound != nil {
		id := st.inbound.transferID
		st.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":    "BeginInbound",
			"transfer_id": ev.TransferID,
			"occupied_by": id,
		}).Warn("Refusing inbound request while slot is occupied")
		return InboundView{}, ErrInboundBusy
	}
	s := newInbound(ev, notificationID)
	st.inbound = s
	v := s.view()
	st.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":        "BeginInbound",
		"transfer_id":     ev.TransferID,
		"notification_id": notificationID,
		"source":          v.SourceName,
	}).Info("Inbound transfer request received")

	st.notifyInbound(v)
	return v, nil
}

// ArmAutoDecline starts the consent-timeout race for the current inbound
// session. If the timer fires while the user action is still unset and the
// slot still belongs to the same transfer, the decline is synthesized
// exactly once and fn runs with the resulting snapshot.
func (st *Store) ArmAutoDecline(timeout time.Duration, fn func(InboundView)) {
	st.mu.Lock()
	s := st.inbound
	if s == nil {
		st.mu.Unlock()
		return
	}
	transferID := s.transferID

	s.armAutoDecline(timeout, func() {
		st.mu.Lock()
		cur := st.inbound
		if cur == nil || cur.transferID != transferID || cur.userAction != UserActionNone {
			st.mu.Unlock()
			return
		}
		// The race can only be lost once: the action is write-once.
		if err := cur.setUserAction(UserActionConsentDecline); err != nil {
			st.mu.Unlock()
			return
		}
		v := cur.view()
		st.mu.Unlock()

		st.notifyInbound(v)
		if fn != nil {
			fn(v)
		}
	})
	st.mu.Unlock()
}

// SetInboundAction records a user decision for the inbound transfer and
// settles the auto-decline race. The returned snapshot carries the transfer
// id the caller forwards to the engine's action sink.
func (st *Store) SetInboundAction(action UserAction) (InboundView, error) {
	st.mu.Lock()
	s := st.inbound
	if s == nil {
		st.mu.Unlock()
		return InboundView{}, ErrNoInboundTransfer
	}
	if err := s.setUserAction(action); err != nil {
		st.mu.Unlock()
		return InboundView{}, err
	}
	v := s.view()
	st.mu.Unlock()

	st.notifyInbound(v)
	return v, nil
}

// ApplyInbound routes a client event to the inbound slot. The event only
// applies when its transfer id matches the id the slot was created for; a
// late event for a superseded transfer must not corrupt a newer session.
// Terminal states release the slot. Reports the updated snapshot, whether
// the slot was released, and whether the event was consumed.
func (st *Store) ApplyInbound(ev protocol.Event) (v InboundView, released, applied bool) {
	st.mu.Lock()
	s := st.inbound
	if s == nil || s.transferID != ev.TransferID {
		st.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":    "ApplyInbound",
			"transfer_id": ev.TransferID,
			"state":       ev.State.String(),
		}).Debug("Dropping inbound event with no matching session")
		return InboundView{}, false, false
	}

	// Any engine event for the live transfer settles the auto-decline race;
	// the handshake has progressed past the consent prompt.
	s.cancelAutoDecline()
	s.apply(ev)
	v = s.view()

	if ev.State.IsTerminal() {
		st.inbound = nil
		released = true
	}
	st.mu.Unlock()

	if released {
		logrus.WithFields(logrus.Fields{
			"function":    "ApplyInbound",
			"transfer_id": ev.TransferID,
			"state":       ev.State.String(),
		}).Info("Inbound slot released on terminal state")
	}

	st.notifyInbound(v)
	return v, released, true
}

// Inbound returns the snapshot of the occupied inbound slot, if any.
func (st *Store) Inbound() (InboundView, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.inbound == nil {
		return InboundView{}, false
	}
	return st.inbound.view(), true
}

// ReleaseInbound drops the inbound slot on shutdown, settling the
// auto-decline race. It returns the snapshot of the released session so the
// caller can withdraw its consent notification, and reports whether a slot
// was occupied.
func (st *Store) ReleaseInbound() (InboundView, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.inbound == nil {
		return InboundView{}, false
	}
	st.inbound.cancelAutoDecline()
	v := st.inbound.view()
	st.inbound = nil
	return v, true
}
