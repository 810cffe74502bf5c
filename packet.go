// Package packet coordinates nearby-share transfer sessions on top of a
// pluggable protocol engine.
//
// The coordinator owns the engine lifecycle, routes its event and discovery
// streams into per-transfer session state, and exposes the operations a
// desktop frontend needs: sending files to a discovered device, answering
// consent prompts for incoming transfers, and cancelling either direction.
//
// Example:
//
//	options := packet.NewOptions()
//	options.DeviceName = "workstation"
//
//	c, err := packet.New(engine, options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	c.OnRecipientChange(func(v session.OutboundView) {
//	    fmt.Printf("%s: %s\n", v.Endpoint.Name, v.Status)
//	})
//
//	if err := c.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Stop(ctx)
//
//	if err := c.StartDiscovery(ctx); err != nil {
//	    log.Fatal(err)
//	}
package packet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rysete/packet/discovery"
	"github.com/rysete/packet/notify"
	"github.com/rysete/packet/protocol"
	"github.com/rysete/packet/router"
	"github.com/rysete/packet/session"
	"github.com/rysete/packet/supervisor"
)

// ErrServiceUnavailable indicates an engine-touching operation while the
// service is stopped or mid-restart. Callers retry after the next Start.
var ErrServiceUnavailable = errors.New("transfer service unavailable")

// ErrEngineRequired indicates construction without a protocol engine.
var ErrEngineRequired = errors.New("protocol engine is required")

// ErrEndpointAbsent indicates a send to a device that stopped advertising.
var ErrEndpointAbsent = errors.New("endpoint is no longer present")

// ErrStaleNotification indicates a notification action for a notification
// that no longer belongs to the current inbound transfer.
var ErrStaleNotification = errors.New("notification is stale")

// Notification action identifiers understood by HandleNotificationAction.
const (
	NotificationActionAccept  = "accept"
	NotificationActionDecline = "decline"
	NotificationActionCancel  = "cancel"
)

// ServiceState describes the coordinator's lifecycle phase.
type ServiceState uint8

const (
	// ServiceStopped is the initial state and the state after Stop.
	ServiceStopped ServiceState = iota
	// ServiceRunning means the engine is up and streams are being consumed.
	ServiceRunning
	// ServiceRestarting covers the window between Stop and Start of a
	// Restart. Engine-touching operations are refused during it.
	ServiceRestarting
	// ServiceUnavailable means the last engine start failed. A later Start
	// or Restart retries.
	ServiceUnavailable
)

// String returns a human-readable name for the service state.
func (s ServiceState) String() string {
	switch s {
	case ServiceStopped:
		return "Stopped"
	case ServiceRunning:
		return "Running"
	case ServiceRestarting:
		return "Restarting"
	case ServiceUnavailable:
		return "Unavailable"
	default:
		return fmt.Sprintf("ServiceState(%d)", uint8(s))
	}
}

// Options contains configuration for creating a Coordinator.
type Options struct {
	// DeviceName is advertised to nearby devices.
	DeviceName string

	// DownloadDir is where accepted inbound payloads are stored.
	DownloadDir string

	// StaticPort pins the engine's listening port; zero lets it pick.
	StaticPort uint16

	// Visible controls whether this device is advertised on start.
	Visible bool

	// ConsentTimeout bounds how long an incoming request waits for a user
	// decision before being declined automatically.
	ConsentTimeout time.Duration

	// Notifier receives transfer milestones. Defaults to logging them.
	Notifier notify.Notifier
}

// NewOptions creates an Options with sensible defaults: the hostname as the
// device name, the user's Downloads directory, visibility on, and the
// standard consent timeout.
func NewOptions() *Options {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "Packet"
	}
	var downloadDir string
	if home, err := os.UserHomeDir(); err == nil {
		downloadDir = filepath.Join(home, "Downloads")
	}
	return &Options{
		DeviceName:     name,
		DownloadDir:    downloadDir,
		Visible:        true,
		ConsentTimeout: router.DefaultConsentTimeout,
		Notifier:       notify.Logger{},
	}
}

// Coordinator is the facade over the engine, the session store, and the
// supervised stream loops. All methods are safe for concurrent use.
type Coordinator struct {
	mu     sync.Mutex
	opts   *Options
	engine protocol.Engine

	store    *session.Store
	registry *discovery.Registry
	sup      *supervisor.Supervisor
	rt       *router.Router

	state       ServiceState
	discovering bool

	onState []func(ServiceState)
}

// New creates a Coordinator over the given engine. A nil opts uses
// NewOptions defaults. The coordinator starts in the stopped state.
func New(engine protocol.Engine, opts *Options) (*Coordinator, error) {
	if engine == nil {
		return nil, ErrEngineRequired
	}
	if opts == nil {
		opts = NewOptions()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Logger{}
	}

	c := &Coordinator{
		opts:     opts,
		engine:   engine,
		store:    session.NewStore(),
		registry: discovery.NewRegistry(),
		sup:      supervisor.New(),
		state:    ServiceStopped,
	}
	c.rt = router.New(router.Config{
		Store:          c.store,
		Notifier:       opts.Notifier,
		ConsentTimeout: opts.ConsentTimeout,
		SendAction:     c.forwardAction,
	})

	// Every discovery record becomes (or refreshes) an outbound session.
	c.registry.OnChange(func(info protocol.EndpointInfo) {
		c.store.UpsertEndpoint(info)
	})

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"device_name": opts.DeviceName,
		"static_port": opts.StaticPort,
	}).Info("Coordinator created")

	return c, nil
}

// OnRecipientChange registers an observer for outbound session snapshots.
// Register before Start.
func (c *Coordinator) OnRecipientChange(fn func(session.OutboundView)) {
	c.store.OnOutboundChange(fn)
}

// OnInboundChange registers an observer for inbound session snapshots.
// Register before Start.
func (c *Coordinator) OnInboundChange(fn func(session.InboundView)) {
	c.store.OnInboundChange(fn)
}

// OnServiceStateChange registers an observer for lifecycle transitions.
// Register before Start.
func (c *Coordinator) OnServiceStateChange(fn func(ServiceState)) {
	c.onState = append(c.onState, fn)
}

// State returns the coordinator's current lifecycle phase.
func (c *Coordinator) State() ServiceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setStateLocked(s ServiceState) []func(ServiceState) {
	if c.state == s {
		return nil
	}
	c.state = s
	logrus.WithFields(logrus.Fields{
		"function": "setStateLocked",
		"state":    s.String(),
	}).Info("Service state changed")
	return c.onState
}

func fireState(observers []func(ServiceState), s ServiceState) {
	for _, fn := range observers {
		fn(s)
	}
}

// Start brings the engine up, applies the configured visibility, and spawns
// the supervised event loops. Idempotent while running. A failed engine
// start leaves the coordinator unavailable until retried.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == ServiceRunning {
		c.mu.Unlock()
		return nil
	}

	if err := c.engine.Start(ctx); err != nil {
		observers := c.setStateLocked(ServiceUnavailable)
		c.mu.Unlock()
		fireState(observers, ServiceUnavailable)
		return fmt.Errorf("starting engine: %w", err)
	}

	c.engine.SetVisibility(c.opts.Visible)
	c.spawnEventLoopsLocked()

	rearmDiscovery := c.discovering
	if rearmDiscovery {
		if err := c.engine.StartDiscovery(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Start",
				"error":    err,
			}).Warn("Discovery did not restart with the service")
			c.discovering = false
		} else {
			c.spawnDiscoveryLoopsLocked()
		}
	}

	observers := c.setStateLocked(ServiceRunning)
	c.mu.Unlock()
	fireState(observers, ServiceRunning)
	return nil
}

// Stop cancels the supervised loops, releases any pending inbound consent,
// and tears the engine down. Idempotent while stopped. Whether discovery was
// on is remembered so a later Start re-arms it.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == ServiceStopped {
		c.mu.Unlock()
		return nil
	}
	err := c.stopLocked(ctx)
	observers := c.setStateLocked(ServiceStopped)
	c.mu.Unlock()
	fireState(observers, ServiceStopped)
	return err
}

func (c *Coordinator) stopLocked(ctx context.Context) error {
	c.sup.StopAll()
	// A consent prompt left on screen would outlive the service otherwise.
	if v, ok := c.store.ReleaseInbound(); ok {
		c.opts.Notifier.Withdraw(v.NotificationID)
	}
	if c.discovering {
		c.engine.StopDiscovery()
		c.registry.MarkAllUnknown()
	}
	if err := c.engine.Stop(ctx); err != nil {
		return fmt.Errorf("stopping engine: %w", err)
	}
	return nil
}

// Restart stops and starts the service, applying the current Options.
// Device renames and port changes take effect through this path. Endpoint
// presence becomes unknown until devices advertise again.
func (c *Coordinator) Restart(ctx context.Context) error {
	c.mu.Lock()
	observers := c.setStateLocked(ServiceRestarting)
	c.mu.Unlock()
	fireState(observers, ServiceRestarting)

	c.mu.Lock()
	stopErr := c.stopLocked(ctx)
	c.mu.Unlock()
	if stopErr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Restart",
			"error":    stopErr,
		}).Warn("Engine stop failed during restart, continuing with start")
	}

	c.registry.MarkAllUnknown()
	return c.Start(ctx)
}

func (c *Coordinator) spawnEventLoopsLocked() {
	events := c.engine.SubscribeEvents()
	handoff := make(chan protocol.Event, 1)

	// The relay never touches session state; it only bridges the engine's
	// stream into the bounded handoff channel the router drains in order.
	c.sup.Spawn("event-relay", func(ctx context.Context) {
		defer close(handoff)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					logrus.WithFields(logrus.Fields{
						"function": "event-relay",
					}).Info("Engine event stream closed")
					return
				}
				select {
				case <-ctx.Done():
					return
				case handoff <- ev:
				}
			}
		}
	})
	c.sup.Spawn("event-router", func(ctx context.Context) {
		c.rt.Run(ctx, handoff)
	})
}

func (c *Coordinator) spawnDiscoveryLoopsLocked() {
	feed := c.engine.SubscribeEndpoints()
	handoff := make(chan protocol.EndpointInfo, 1)

	c.sup.Spawn("endpoint-relay", func(ctx context.Context) {
		defer close(handoff)
		for {
			select {
			case <-ctx.Done():
				return
			case info, ok := <-feed:
				if !ok {
					logrus.WithFields(logrus.Fields{
						"function": "endpoint-relay",
					}).Info("Discovery feed closed")
					return
				}
				select {
				case <-ctx.Done():
					return
				case handoff <- info:
				}
			}
		}
	})
	c.sup.Spawn("endpoint-apply", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case info, ok := <-handoff:
				if !ok {
					return
				}
				c.registry.Upsert(info)
			}
		}
	})
}

// StartDiscovery begins consuming the engine's discovery feed into the
// recipient list. Idempotent while discovering.
func (c *Coordinator) StartDiscovery(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != ServiceRunning {
		return ErrServiceUnavailable
	}
	if c.discovering {
		return nil
	}
	if err := c.engine.StartDiscovery(ctx); err != nil {
		return fmt.Errorf("starting discovery: %w", err)
	}
	c.spawnDiscoveryLoopsLocked()
	c.discovering = true

	logrus.WithFields(logrus.Fields{
		"function": "StartDiscovery",
	}).Info("Discovery started")
	return nil
}

// StopDiscovery halts the discovery feed. Known devices stay listed with
// unknown presence. Idempotent.
func (c *Coordinator) StopDiscovery() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.discovering {
		return
	}
	c.engine.StopDiscovery()
	c.discovering = false
	c.registry.MarkAllUnknown()

	logrus.WithFields(logrus.Fields{
		"function": "StopDiscovery",
	}).Info("Discovery stopped")
}

func (c *Coordinator) requireRunning() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ServiceRunning {
		return ErrServiceUnavailable
	}
	return nil
}

// forwardAction pushes a consent or cancel decision to the engine's action
// sink. Used by the router's auto-decline path, which has no caller context.
func (c *Coordinator) forwardAction(transferID string, action protocol.Action) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.engine.SendAction(ctx, transferID, action); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "forwardAction",
			"transfer_id": transferID,
			"action":      action.String(),
			"error":       err,
		}).Error("Failed to forward action to engine")
	}
}

// Send starts an outbound transfer of files to a discovered endpoint. The
// file set and total payload size are snapshotted into the session before
// the request reaches the engine, so progress reporting has its baseline
// even if the first event races the return. A send while another transfer is
// active queues in the session; the engine serializes actual transmission.
func (c *Coordinator) Send(ctx context.Context, endpointID string, files []string) error {
	if err := c.requireRunning(); err != nil {
		return err
	}

	v, ok := c.store.Get(endpointID)
	if !ok {
		return session.ErrUnknownEndpoint
	}
	if present := v.Endpoint.Present; present != nil && !*present {
		return ErrEndpointAbsent
	}

	total, err := totalFileSize(files)
	if err != nil {
		return fmt.Errorf("sizing payload: %w", err)
	}

	queued, err := c.store.BeginSend(endpointID, files, total)
	if err != nil {
		return err
	}

	req := protocol.SendRequest{
		EndpointID: endpointID,
		Name:       v.Endpoint.Name,
		Addr:       v.Endpoint.Address(),
		Files:      append([]string(nil), files...),
	}
	if err := c.engine.Send(ctx, req); err != nil {
		return fmt.Errorf("sending to %s: %w", endpointID, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Send",
		"endpoint_id": endpointID,
		"files":       len(files),
		"total_bytes": total,
		"queued":      queued,
	}).Info("Outbound transfer requested")
	return nil
}

func totalFileSize(files []string) (int64, error) {
	var total int64
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// RespondToConsent answers the pending inbound request. The decision is
// recorded before it reaches the engine, which settles the auto-decline
// race in the user's favour.
func (c *Coordinator) RespondToConsent(ctx context.Context, accept bool) error {
	if err := c.requireRunning(); err != nil {
		return err
	}

	action := session.UserActionConsentDecline
	if accept {
		action = session.UserActionConsentAccept
	}
	v, err := c.store.SetInboundAction(action)
	if err != nil {
		return err
	}

	// The prompt is resolved either way; the terminal milestone posts its
	// own notification later.
	c.opts.Notifier.Withdraw(v.NotificationID)

	engineAction, _ := action.Action()
	if err := c.engine.SendAction(ctx, v.TransferID, engineAction); err != nil {
		return fmt.Errorf("forwarding consent for %s: %w", v.TransferID, err)
	}
	return nil
}

// CancelTransfer aborts a transfer in either direction. For the inbound
// transfer the cancellation is recorded first so the upcoming Cancelled
// event is attributed to this user rather than the sender.
func (c *Coordinator) CancelTransfer(ctx context.Context, transferID string) error {
	if err := c.requireRunning(); err != nil {
		return err
	}

	if v, ok := c.store.Inbound(); ok && v.TransferID == transferID {
		if _, err := c.store.SetInboundAction(session.UserActionTransferCancel); err != nil {
			return err
		}
	}

	if err := c.engine.SendAction(ctx, transferID, protocol.ActionTransferCancel); err != nil {
		return fmt.Errorf("cancelling %s: %w", transferID, err)
	}
	return nil
}

// HandleNotificationAction maps a desktop notification response back onto
// the pending inbound transfer. The notification id must match the one the
// consent prompt was posted with; responses to withdrawn prompts are stale.
func (c *Coordinator) HandleNotificationAction(ctx context.Context, notificationID, action string) error {
	v, ok := c.store.Inbound()
	if !ok {
		return session.ErrNoInboundTransfer
	}
	if v.NotificationID != notificationID {
		return ErrStaleNotification
	}

	switch action {
	case NotificationActionAccept:
		return c.RespondToConsent(ctx, true)
	case NotificationActionDecline:
		return c.RespondToConsent(ctx, false)
	case NotificationActionCancel:
		return c.CancelTransfer(ctx, v.TransferID)
	default:
		return fmt.Errorf("unknown notification action %q", action)
	}
}

// RefreshRecipients drops settled sessions from the recipient list and
// returns the removed snapshots. Active transfers always survive.
func (c *Coordinator) RefreshRecipients() []session.OutboundView {
	return c.store.Refresh()
}

// Recipients returns the current recipient list, newest discovery first.
func (c *Coordinator) Recipients() []session.OutboundView {
	return c.store.List()
}

// InboundTransfer returns the pending or running inbound transfer, if any.
func (c *Coordinator) InboundTransfer() (session.InboundView, bool) {
	return c.store.Inbound()
}

// ActiveTransfers reports whether any transfer is queued, requested, or
// running in either direction. Frontends block device renames and window
// closes while this is true.
func (c *Coordinator) ActiveTransfers() bool {
	return c.store.AnyTransferActive()
}

// SetVisibility toggles advertisement to nearby devices. The preference is
// kept in Options so it survives a restart; it is applied immediately while
// the service runs.
func (c *Coordinator) SetVisibility(visible bool) {
	c.mu.Lock()
	c.opts.Visible = visible
	running := c.state == ServiceRunning
	c.mu.Unlock()

	if running {
		c.engine.SetVisibility(visible)
	}

	logrus.WithFields(logrus.Fields{
		"function": "SetVisibility",
		"visible":  visible,
	}).Info("Visibility preference updated")
}
