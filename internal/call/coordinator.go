package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"vozconnect/internal/domain"
	"vozconnect/internal/media"
	"vozconnect/internal/signaling"
	pkgcontext "vozconnect/pkg/context"
	"vozconnect/pkg/errors"
	"vozconnect/pkg/logger"
	"vozconnect/pkg/metrics"
)

// DefaultRingTimeout is how long an unanswered outbound call rings before
// it is treated as missed.
const DefaultRingTimeout = 60 * time.Second

// Call-log entries appended to the room's chat, one per call outcome.
const (
	logCallAnswered = "Chamada atendida"
	logCallDeclined = "Chamada recusada"
	logCallMissed   = "Chamada perdida"
)

// Transport is the signaling connection the coordinator owns for the
// lifetime of the authenticated session.
type Transport interface {
	Connect(ctx context.Context, userID, roomID string) error
	Send(msg *signaling.Message)
	OnMessage(fn func(*signaling.Message))
	OnStatus(fn func(signaling.Status))
	Disconnect()
	RoomID() string
}

// Directory resolves a user id to a display name. Consumed read-only; user
// management lives elsewhere in the application.
type Directory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// MessageSink appends a system message to a room's chat log. Failures are
// logged and swallowed by the coordinator.
type MessageSink interface {
	AppendSystemMessage(ctx context.Context, roomID, text string) error
}

// IncomingCall describes a ringing inbound call surfaced to the UI.
type IncomingCall struct {
	RoomID   string
	From     string
	FromName string
	CallType domain.CallType
}

// NotificationAction is delivered by the push-notification channel when the
// user answered a call from a notification before the call-request arrived
// over signaling.
type NotificationAction struct {
	Action   string `json:"action"`
	RoomID   string `json:"roomId"`
	CallType domain.CallType `json:"callType"`
}

type autoAcceptIntent struct {
	roomID   string
	callType domain.CallType
}

// Options configures a coordinator.
type Options struct {
	Directory   Directory // optional; incoming calls fall back to the raw user id
	Sink        MessageSink // optional; no call-log entries when absent
	WebRTC      webrtc.Configuration
	RingTimeout time.Duration // DefaultRingTimeout when zero
}

// Coordinator is the session-scoped singleton owning the signaling
// transport for one logged-in user. It fans incoming call-requests out to
// the UI, arms the ring timeout, manages auto-accept intents and emits
// call-log side effects to chat. At most one call session is live at a time.
type Coordinator struct {
	transport   Transport
	devices     media.DeviceAccess
	directory   Directory
	sink        MessageSink
	webrtcCfg   webrtc.Configuration
	ringTimeout time.Duration
	log         *zap.Logger

	mu          sync.Mutex
	userID      string
	started     bool
	session     *Session
	incoming    *IncomingCall
	ringTimer   *time.Timer
	connectedAt time.Time
	autoAccept  *autoAcceptIntent

	cbMu        sync.RWMutex
	onIncoming  func(*IncomingCall)
	onStatus    func(domain.CallStatus)
	onConnLost  func()
	onRemoteTrk func(*webrtc.TrackRemote)
}

// NewCoordinator creates a coordinator bound to a transport and a media
// device source. Construct once per authenticated session; dispose with Stop
// on logout.
func NewCoordinator(transport Transport, devices media.DeviceAccess, opts Options) *Coordinator {
	ringTimeout := opts.RingTimeout
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}

	c := &Coordinator{
		transport:   transport,
		devices:     devices,
		directory:   opts.Directory,
		sink:        opts.Sink,
		webrtcCfg:   opts.WebRTC,
		ringTimeout: ringTimeout,
		log:         logger.With(zap.String("component", "coordinator")),
	}

	transport.OnMessage(c.handleMessage)
	transport.OnStatus(c.handleTransportStatus)
	return c
}

// OnIncoming registers the callback fired when an inbound call starts
// ringing (unless auto-accept consumes it first).
func (c *Coordinator) OnIncoming(fn func(*IncomingCall)) {
	c.cbMu.Lock()
	c.onIncoming = fn
	c.cbMu.Unlock()
}

// OnStatus registers the callback fired on every call status transition.
func (c *Coordinator) OnStatus(fn func(domain.CallStatus)) {
	c.cbMu.Lock()
	c.onStatus = fn
	c.cbMu.Unlock()
}

// OnConnectionLost registers the callback fired when the signaling
// connection drops. Reconnecting is the application's decision.
func (c *Coordinator) OnConnectionLost(fn func()) {
	c.cbMu.Lock()
	c.onConnLost = fn
	c.cbMu.Unlock()
}

// OnRemoteTrack registers the callback fired when remote media arrives for
// the active call.
func (c *Coordinator) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	c.cbMu.Lock()
	c.onRemoteTrk = fn
	c.cbMu.Unlock()
}

// Start attaches the transport for userID. The connection is opened once at
// login and reused across sequential calls; the user's own id doubles as
// the default room for receiving call-requests.
func (c *Coordinator) Start(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.InvalidInputError("userId is required")
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.StateConflictError("coordinator already started")
	}
	c.userID = userID
	c.started = true
	c.mu.Unlock()

	if err := c.transport.Connect(ctx, userID, userID); err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return err
	}

	c.log.Info("coordinator started", zap.String("user_id", userID))
	return nil
}

// Stop ends any active call and closes the transport. Called on logout.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	sess := c.session
	c.stopRingTimerLocked()
	c.started = false
	c.mu.Unlock()

	if sess != nil && sess.Status().Live() {
		if err := sess.End(); err != nil {
			c.log.Warn("failed to end call on stop", zap.Error(err))
		}
	}

	c.transport.Disconnect()
	c.log.Info("coordinator stopped")
}

// StartCall places an outbound call and arms the ring timeout. Rejected
// while another call is calling, ringing or connected, and rejected when the
// transport is attached to a different room: the relay stamps every frame
// with the connection's room, so a request sent from the wrong room would
// never reach the callee. JoinRoom first.
func (c *Coordinator) StartCall(ctx context.Context, roomID, to string, callType domain.CallType) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return errors.StateConflictError("coordinator not started")
	}
	if c.session != nil {
		c.mu.Unlock()
		return errors.StateConflictError("a call is already in progress")
	}
	if attached := c.transport.RoomID(); attached != roomID {
		c.mu.Unlock()
		return errors.StateConflictError(
			fmt.Sprintf("transport is attached to room %q, not %q; join the call room first", attached, roomID))
	}
	sess := c.newSessionLocked()
	c.session = sess
	c.mu.Unlock()

	if err := sess.Start(ctx, roomID, to, callType); err != nil {
		c.mu.Lock()
		if c.session == sess {
			c.session = nil
		}
		c.mu.Unlock()
		return err
	}

	metrics.CallStartedTotal.WithLabelValues(string(callType)).Inc()
	c.armRingTimer(sess, roomID)
	return nil
}

// AcceptCall answers the pending incoming call. The call type is the one
// carried by the call-request; there is no mid-call upgrade.
func (c *Coordinator) AcceptCall(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		return errors.StateConflictError("no incoming call to accept")
	}
	return sess.Accept(ctx)
}

// RejectCall declines the pending incoming call and appends the declined
// call-log entry.
func (c *Coordinator) RejectCall() error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		return errors.StateConflictError("no incoming call to reject")
	}
	roomID := sess.RoomID()

	if err := sess.Reject(); err != nil {
		return err
	}

	metrics.CallOutcomeTotal.WithLabelValues("declined").Inc()
	c.appendCallLog(roomID, logCallDeclined)
	return nil
}

// EndCall hangs up the active call. A connected call gets the answered
// call-log entry with its duration; a cancel before answer logs nothing.
func (c *Coordinator) EndCall() error {
	c.mu.Lock()
	sess := c.session
	connectedAt := c.connectedAt
	c.mu.Unlock()

	if sess == nil {
		return errors.StateConflictError("no active call to end")
	}
	roomID := sess.RoomID()
	wasConnected := sess.Status() == domain.StatusConnected

	if err := sess.End(); err != nil {
		return err
	}

	if wasConnected {
		duration := time.Since(connectedAt)
		metrics.CallOutcomeTotal.WithLabelValues("answered").Inc()
		metrics.CallDurationSeconds.Observe(duration.Seconds())
		c.appendCallLog(roomID, fmt.Sprintf("%s (%s)", logCallAnswered, formatDuration(duration)))
	}
	return nil
}

// ToggleMute flips local audio on the active call; returns the new muted state.
func (c *Coordinator) ToggleMute() (bool, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return false, errors.StateConflictError("no active call")
	}
	return sess.ToggleMute()
}

// ToggleVideo flips local video on the active call; returns the new enabled state.
func (c *Coordinator) ToggleVideo() (bool, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return false, errors.StateConflictError("no active call")
	}
	return sess.ToggleVideo()
}

// JoinRoom re-attaches the signaling transport to roomID ahead of a
// call-request, used by the answer-from-notification flow.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID string) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return errors.StateConflictError("coordinator not started")
	}
	if c.session != nil {
		c.mu.Unlock()
		return errors.StateConflictError("cannot switch rooms during an active call")
	}
	userID := c.userID
	c.mu.Unlock()

	c.transport.Disconnect()
	return c.transport.Connect(ctx, userID, roomID)
}

// HandleNotificationAction processes an "answer" action from the push
// notification channel: when the call-request already arrived the call is
// accepted directly, otherwise the coordinator joins the room and arms an
// auto-accept intent consumed by the matching call-request.
func (c *Coordinator) HandleNotificationAction(ctx context.Context, action NotificationAction) error {
	if action.Action != "answer" {
		c.log.Debug("ignoring notification action", zap.String("action", action.Action))
		return nil
	}
	if action.RoomID == "" {
		return errors.InvalidInputError("notification action carries no roomId")
	}

	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess != nil && sess.RoomID() == action.RoomID && sess.Status() == domain.StatusRinging {
		return c.AcceptCall(ctx)
	}

	c.mu.Lock()
	c.autoAccept = &autoAcceptIntent{roomID: action.RoomID, callType: action.CallType}
	c.mu.Unlock()

	c.log.Info("auto-accept armed", zap.String("room_id", action.RoomID))
	if err := c.JoinRoom(ctx, action.RoomID); err != nil {
		// The intent must not outlive the failed join, or a later
		// call-request for the room would be answered behind the user's back.
		c.mu.Lock()
		if c.autoAccept != nil && c.autoAccept.roomID == action.RoomID {
			c.autoAccept = nil
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// Incoming returns the pending incoming call, or nil.
func (c *Coordinator) Incoming() *IncomingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incoming
}

// CurrentCall returns a snapshot of the active call, or nil when idle.
func (c *Coordinator) CurrentCall() *domain.Call {
	c.mu.Lock()
	sess := c.session
	connectedAt := c.connectedAt
	c.mu.Unlock()

	if sess == nil {
		return nil
	}
	snap := sess.Snapshot()
	if snap.Status == domain.StatusIdle {
		return nil
	}
	if snap.Status == domain.StatusConnected && !connectedAt.IsZero() {
		snap.Duration = int(time.Since(connectedAt).Seconds())
	}
	return &snap
}

// handleMessage routes one inbound signaling message. Runs on the transport
// read goroutine, so call-request handling is naturally serialized.
func (c *Coordinator) handleMessage(msg *signaling.Message) {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()

	if msg.To != "" && msg.To != userID {
		return
	}

	if msg.Type == signaling.TypeCallRequest {
		c.handleCallRequest(msg)
		return
	}

	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		c.log.Debug("dropping signaling message with no active session",
			zap.String("type", string(msg.Type)),
			zap.String("room_id", msg.RoomID))
		return
	}
	sess.HandleMessage(msg)
}

func (c *Coordinator) handleCallRequest(msg *signaling.Message) {
	c.mu.Lock()
	if c.session != nil {
		// One pending call at most: a second request for a different room
		// while one is ringing or connected is ignored, never overwritten.
		active := c.session
		c.mu.Unlock()
		if active.RoomID() == msg.RoomID {
			active.HandleMessage(msg) // duplicate; the session ignores it
		} else {
			c.log.Warn("ignoring concurrent call-request",
				zap.String("active_room", active.RoomID()),
				zap.String("request_room", msg.RoomID))
		}
		return
	}

	sess := c.newSessionLocked()
	c.session = sess
	c.mu.Unlock()

	sess.HandleMessage(msg)
	if sess.Status() != domain.StatusRinging {
		// Request was malformed and dropped by the session.
		c.mu.Lock()
		if c.session == sess {
			c.session = nil
		}
		c.mu.Unlock()
		return
	}

	metrics.CallIncomingTotal.WithLabelValues(string(msg.CallType)).Inc()

	c.mu.Lock()
	auto := c.autoAccept != nil && c.autoAccept.roomID == msg.RoomID
	if auto {
		c.autoAccept = nil
	} else {
		c.incoming = &IncomingCall{
			RoomID:   msg.RoomID,
			From:     msg.From,
			CallType: msg.CallType,
		}
	}
	c.mu.Unlock()

	if auto {
		// The user already answered from the notification; accept without
		// surfacing a ringing UI. Off the read goroutine so candidate
		// relay keeps flowing during media acquisition.
		go func() {
			ctx, cancel := pkgcontext.WithDefaultTimeout(context.Background())
			defer cancel()
			if err := sess.Accept(ctx); err != nil {
				c.log.Error("auto-accept failed", zap.String("room_id", msg.RoomID), zap.Error(err))
			}
		}()
		return
	}

	incoming := c.resolveIncoming(msg)
	c.cbMu.RLock()
	fn := c.onIncoming
	c.cbMu.RUnlock()
	if fn != nil {
		fn(incoming)
	}
}

// resolveIncoming labels the incoming call with the caller's display name,
// falling back to the raw id when the directory cannot resolve it.
func (c *Coordinator) resolveIncoming(msg *signaling.Message) *IncomingCall {
	incoming := &IncomingCall{
		RoomID:   msg.RoomID,
		From:     msg.From,
		FromName: msg.From,
		CallType: msg.CallType,
	}

	if c.directory != nil {
		ctx, cancel := pkgcontext.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if name, err := c.directory.DisplayName(ctx, msg.From); err == nil && name != "" {
			incoming.FromName = name
		} else if err != nil {
			c.log.Warn("failed to resolve caller name", zap.String("user_id", msg.From), zap.Error(err))
		}
	}

	c.mu.Lock()
	if c.incoming != nil && c.incoming.RoomID == incoming.RoomID {
		c.incoming = incoming
	}
	c.mu.Unlock()
	return incoming
}

// handleTransportStatus reacts to connection loss: the active call is torn
// down locally and the loss is surfaced; no automatic reconnect.
func (c *Coordinator) handleTransportStatus(status signaling.Status) {
	if status != signaling.StatusDisconnected {
		return
	}

	c.log.Error("signaling connection lost")

	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess != nil {
		sess.HandleRemoteClose()
	}

	c.cbMu.RLock()
	fn := c.onConnLost
	c.cbMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// newSessionLocked builds a session wired back into the coordinator.
// Caller holds c.mu.
func (c *Coordinator) newSessionLocked() *Session {
	var sess *Session
	sess = NewSession(c.transport, SessionConfig{
		LocalUserID: c.userID,
		Devices:     c.devices,
		WebRTC:      c.webrtcCfg,
		OnStatus: func(status domain.CallStatus) {
			c.handleSessionStatus(sess, status)
		},
		OnRemoteTrack: func(track *webrtc.TrackRemote) {
			c.cbMu.RLock()
			fn := c.onRemoteTrk
			c.cbMu.RUnlock()
			if fn != nil {
				fn(track)
			}
		},
	})
	return sess
}

// handleSessionStatus centralizes the timer and bookkeeping transitions:
// the ring timeout is disarmed on every terminal path and on connect, in
// one place rather than at each call site.
func (c *Coordinator) handleSessionStatus(sess *Session, status domain.CallStatus) {
	c.mu.Lock()
	if c.session == sess {
		switch status {
		case domain.StatusConnected:
			c.stopRingTimerLocked()
			c.connectedAt = time.Now()
			c.incoming = nil
		case domain.StatusIdle:
			c.stopRingTimerLocked()
			c.session = nil
			c.incoming = nil
			c.connectedAt = time.Time{}
		}
	}
	c.mu.Unlock()

	c.cbMu.RLock()
	fn := c.onStatus
	c.cbMu.RUnlock()
	if fn != nil {
		fn(status)
	}
}

// armRingTimer starts the missed-call timer for an outbound call, unless
// the call already left the calling state.
func (c *Coordinator) armRingTimer(sess *Session, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != sess || sess.Status() != domain.StatusCalling {
		return
	}
	c.stopRingTimerLocked()
	c.ringTimer = time.AfterFunc(c.ringTimeout, func() {
		c.onRingTimeout(sess, roomID)
	})
}

func (c *Coordinator) stopRingTimerLocked() {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
}

// onRingTimeout fires when an outbound call went unanswered: the call is
// ended, a missed-call entry (duration zero) is appended and state returns
// to idle. It never fires against an already-ended call.
func (c *Coordinator) onRingTimeout(sess *Session, roomID string) {
	c.mu.Lock()
	stale := c.session != sess
	c.mu.Unlock()
	if stale || sess.Status() != domain.StatusCalling {
		return
	}

	c.log.Info("call ring timeout", zap.String("room_id", roomID))
	if err := sess.End(); err != nil {
		c.log.Warn("failed to end timed-out call", zap.Error(err))
		return
	}

	metrics.CallOutcomeTotal.WithLabelValues("missed").Inc()
	c.appendCallLog(roomID, logCallMissed)
}

// appendCallLog emits a call-log system message to the room's chat.
// Fire-and-forget: failures are logged and swallowed.
func (c *Coordinator) appendCallLog(roomID, text string) {
	if c.sink == nil {
		return
	}
	ctx, cancel := pkgcontext.WithShortTimeout(context.Background())
	defer cancel()
	if err := c.sink.AppendSystemMessage(ctx, roomID, text); err != nil {
		metrics.CallLogAppendTotal.WithLabelValues("failure").Inc()
		c.log.Warn("failed to append call log",
			zap.String("room_id", roomID),
			zap.String("text", text),
			zap.Error(err))
		return
	}
	metrics.CallLogAppendTotal.WithLabelValues("success").Inc()
}

// formatDuration renders a call duration as m:ss for the call log.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
