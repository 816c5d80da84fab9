package amaterasu

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type inboundFrame struct {
	event *Event
	err   error
}

// connection is one websocket attempt. The run goroutine abandons a dead
// connection by closing done; a late frame from its read loop is then
// discarded instead of racing the replacement connection.
type connection struct {
	ws     *websocket.Conn
	frames chan inboundFrame
	done   chan struct{}
}

type ctrlMsg struct {
	closeCode int
	reason    string
}

// runState is the run goroutine's private connection bookkeeping. Only
// one reconnect timer is ever pending.
type runState struct {
	conn       *connection
	hb         *heartbeatController
	reconnectT *time.Timer
	reconnectC <-chan time.Time
	attempt    int
	resume     bool
}

// Connect opens the transport and starts the engine's run goroutine.
// Valid only from the disconnected state. A failed dial leaves the
// session disconnected; the caller may retry with the same semantics as
// a dropped connection.
func (s *Session) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}

	conn, err := s.dial(ctx, s.gatewayAddr(ctx))
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	s.RateLimiter.Reset()
	s.ctrl = make(chan ctrlMsg, 1)
	s.runDone = make(chan struct{})
	s.stop = make(chan struct{})
	s.stopOnce = sync.Once{}
	s.termErr = nil
	s.state.Store(int32(StateAwaitingHello))

	go s.run(conn)
	return nil
}

// Close is Disconnect with a generic reason.
func (s *Session) Close(ctx context.Context) error {
	return s.Disconnect(ctx, "client disconnect")
}

// Disconnect cancels the heartbeat timer and any pending reconnect
// backoff atomically with the transport close. Calling it while already
// disconnected is a no-op; a reconnect dial in flight is abandoned.
// Resume state is retained: a later Connect attempts to resume the
// session, though the gateway may decline a resume after a clean close
// and ask for a fresh identify instead.
func (s *Session) Disconnect(ctx context.Context, reason string) error {
	if s.runDone == nil || s.ConnState() == StateDisconnected {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stop) })

	select {
	case s.ctrl <- ctrlMsg{closeCode: websocket.CloseNormalClosure, reason: reason}:
	case <-s.runDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-s.runDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the session is permanently disconnected and returns
// the terminal error, nil for a caller-requested disconnect.
func (s *Session) Wait(ctx context.Context) error {
	if s.runDone == nil {
		return nil
	}
	select {
	case <-s.runDone:
		return s.termErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) gatewayAddr(ctx context.Context) string {
	if s.gateway != "" {
		return s.gateway
	}
	if s.rest != nil {
		url, err := s.rest.GatewayURL(ctx)
		if err != nil {
			s.log.Warn("gateway discovery failed, using default", "err", err)
		} else if url != "" {
			s.gateway = url
			return url
		}
	}
	s.gateway = defaultGateway
	return defaultGateway
}

func (s *Session) dial(ctx context.Context, gateway string) (*connection, error) {
	headers := http.Header{}
	headers.Add("Accept-Encoding", "zlib")

	ws, _, err := s.dialer.DialContext(ctx,
		fmt.Sprintf("%s?v=%s&encoding=%s", gateway, gatewayVersion, defaultEncoding), headers)
	if err != nil {
		return nil, err
	}

	c := &connection{
		ws:     ws,
		frames: make(chan inboundFrame),
		done:   make(chan struct{}),
	}

	s.connMu.Lock()
	s.wsConn = ws
	s.connMu.Unlock()

	go s.listen(c)
	return c, nil
}

// listen reads and decodes frames off one socket. It only hands frames
// to the run goroutine; all state lives there.
func (s *Session) listen(c *connection) {
	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case c.frames <- inboundFrame{err: err}:
			case <-c.done:
			}
			return
		}

		e, err := decodeFrame(messageType, message)
		if err != nil {
			// Malformed frame: logged and dropped, connection continues.
			s.log.Warn("dropping malformed frame", "err", err)
			continue
		}

		select {
		case c.frames <- inboundFrame{event: e}:
		case <-c.done:
			return
		}
	}
}

// run is the engine's single control goroutine. Frame processing,
// heartbeat ticks, reconnect timers and state transitions all serialize
// here; no two of them ever interleave.
func (s *Session) run(conn *connection) {
	rs := &runState{conn: conn}

	defer func() {
		rs.hb.stop()
		if rs.reconnectT != nil {
			rs.reconnectT.Stop()
		}
		s.state.Store(int32(StateDisconnected))
		close(s.runDone)
	}()

	for {
		var frames chan inboundFrame
		if rs.conn != nil {
			frames = rs.conn.frames
		}

		select {
		case msg := <-s.ctrl:
			s.log.Info("disconnecting", "reason", msg.reason)
			s.teardown(rs, msg.closeCode)
			return

		case in := <-frames:
			if in.err != nil {
				if !s.handleSocketError(rs, in.err) {
					return
				}
				continue
			}
			if !s.handleFrame(rs, in.event) {
				return
			}

		case <-rs.hb.tickC():
			if rs.hb.zombied() {
				// Ack never arrived: the socket is assumed
				// unresponsive, not gracefully closable.
				if !s.forceReconnect(rs, "heartbeat ack missed") {
					return
				}
				continue
			}
			s.sendHeartbeat(rs)

		case <-rs.reconnectC:
			rs.reconnectC = nil
			rs.reconnectT = nil
			s.attemptReconnect(rs)
		}
	}
}

func (s *Session) handleFrame(rs *runState, e *Event) bool {
	switch e.Operation {
	case OpDispatch:
		s.handleDispatch(rs, e)

	case OpHello:
		s.handleHello(rs, e)

	case OpHeartbeat:
		// The platform asked for an immediate beat; answered outside
		// the tick schedule, without resetting the ticker.
		s.sendHeartbeat(rs)

	case OpHeartbeatAck:
		rs.hb.ack()

	case OpReconnect:
		s.log.Info("gateway requested reconnect")
		return s.forceReconnect(rs, "reconnect requested")

	case OpInvalidSession:
		return s.handleInvalidSession(rs, e)

	default:
		s.log.Debug("unhandled opcode", "op", e.Operation)
	}
	return true
}

func (s *Session) handleHello(rs *runState, e *Event) {
	var h helloData
	if err := jsonIter.Unmarshal(e.RawData, &h); err != nil {
		s.log.Warn("bad hello payload", "err", fmt.Errorf("%w: %v", ErrProtocol, err))
		return
	}

	s.heartbeatInterval = time.Duration(h.HeartbeatInterval) * time.Millisecond
	rs.hb.stop()
	rs.hb = newHeartbeatController(s.heartbeatInterval)
	s.log.Debug("hello received", "heartbeat_interval", s.heartbeatInterval)

	// Resume both on internal reconnects and when a caller reconnects
	// with retained session state. The gateway answers a resume it no
	// longer honors with op 9, which falls back to identify.
	if (rs.resume || s.autoReconnect) && s.resumable() {
		s.sendResume(rs)
		return
	}
	s.sendIdentify()
}

func (s *Session) sendIdentify() {
	s.state.Store(int32(StateIdentifying))
	if err := s.send(context.Background(), OpIdentify, s.buildIdentify()); err != nil {
		s.log.Warn("identify send failed", "err", err)
	}
}

func (s *Session) sendResume(rs *runState) {
	r, err := s.buildResume()
	if err != nil {
		s.sendIdentify()
		return
	}
	s.state.Store(int32(StateResuming))
	if err := s.send(context.Background(), OpResume, r); err != nil {
		s.log.Warn("resume send failed", "err", err)
	}
}

func (s *Session) sendHeartbeat(rs *runState) {
	if rs.hb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.heartbeatInterval)
	defer cancel()

	// The sequence is null, not zero, until the first dispatch lands.
	var seq *int64
	if v := s.sequence.Load(); v != 0 {
		seq = &v
	}
	b, err := encodeFrame(OpHeartbeat, seq)
	if err != nil {
		s.log.Warn("heartbeat encode failed", "err", err)
		return
	}
	if err := s.write(ctx, b, true); err != nil {
		s.log.Warn("heartbeat send failed", "err", err)
		return
	}
	rs.hb.beat()
}

func (s *Session) handleInvalidSession(rs *runState, e *Event) bool {
	var resumable invalidSessionData
	if err := jsonIter.Unmarshal(e.RawData, &resumable); err != nil {
		s.log.Warn("bad invalid-session payload", "err", err)
	}

	if bool(resumable) && s.resumable() {
		s.log.Info("session invalidated, retrying resume")
		s.sendResume(rs)
		return true
	}

	s.log.Info("session invalidated, re-identifying")
	s.clearSession()

	// Short randomized delay so a fleet of clients does not re-identify
	// in lockstep.
	select {
	case <-time.After(identifyDelay()):
	case <-s.stop:
		return true
	}
	s.sendIdentify()
	return true
}

func (s *Session) handleDispatch(rs *runState, e *Event) {
	switch e.Type {
	case EventReady:
		var r Ready
		if err := jsonIter.Unmarshal(e.RawData, &r); err != nil {
			s.log.Warn("bad ready payload", "err", fmt.Errorf("%w: %v", ErrProtocol, err))
			break
		}
		s.setSessionInfo(r.SessionID, r.ResumeGatewayURL)
		s.state.Store(int32(StateConnected))
		rs.attempt = 0
		e.Struct = &r
		s.log.Info("gateway session ready",
			"session_id", r.SessionID, "guilds", len(r.Guilds))

	case EventResumed:
		s.state.Store(int32(StateConnected))
		rs.attempt = 0
		s.log.Info("gateway session resumed", "seq", s.sequence.Load())
	}

	s.dispatch(e)
}

// handleSocketError classifies a dead socket and either schedules a
// reconnect or terminates the session. Returns false to stop the run
// goroutine.
func (s *Session) handleSocketError(rs *runState, err error) bool {
	code := 0
	text := ""
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
		text = ce.Text
	}
	policy := closeResume
	if code != 0 {
		policy = classifyClose(code)
	}

	s.log.Warn("gateway connection lost", "code", code, "err", err)
	s.teardown(rs, websocket.CloseNormalClosure)

	if policy == closeFatal {
		s.termErr = &CloseError{Code: code, Text: text}
		s.clearSession()
		s.emitDisconnect(code, s.termErr, false)
		return false
	}

	if !s.autoReconnect {
		s.emitDisconnect(code, err, false)
		return false
	}

	if policy == closeReidentify {
		s.clearSession()
	}
	rs.resume = s.resumable()
	s.emitDisconnect(code, err, true)
	s.scheduleReconnect(rs)
	return true
}

// forceReconnect tears the socket down without a graceful close and
// schedules a resume. Used for zombied connections and op 7.
func (s *Session) forceReconnect(rs *runState, reason string) bool {
	if !s.autoReconnect {
		s.log.Warn("connection unusable and auto-reconnect disabled", "reason", reason)
		s.teardown(rs, websocket.CloseServiceRestart)
		s.emitDisconnect(0, fmt.Errorf("connection unusable: %s", reason), false)
		return false
	}

	s.log.Warn("forcing reconnect", "reason", reason)
	s.teardown(rs, websocket.CloseServiceRestart)
	rs.resume = s.resumable()
	s.emitDisconnect(0, nil, true)
	s.scheduleReconnect(rs)
	return true
}

// scheduleReconnect arms the backoff timer. A close event arriving while
// a timer is already pending must not create a second competing one.
func (s *Session) scheduleReconnect(rs *runState) {
	if rs.reconnectC != nil {
		return
	}
	s.state.Store(int32(StateConnecting))
	delay := backoffDelay(rs.attempt)
	rs.attempt++
	s.log.Info("reconnect scheduled", "attempt", rs.attempt, "delay", delay)
	rs.reconnectT = time.NewTimer(delay)
	rs.reconnectC = rs.reconnectT.C
}

func (s *Session) attemptReconnect(rs *runState) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	addr := s.gatewayAddr(ctx)
	resumeAddr := s.resumeGatewayURL()
	if rs.resume && resumeAddr != "" {
		addr = resumeAddr
	}

	conn, err := s.dial(ctx, addr)
	if err != nil && addr == resumeAddr {
		// The platform's resume URL can go stale between sessions;
		// fall back to the discovered gateway.
		s.log.Warn("resume url stale, falling back", "err", err)
		conn, err = s.dial(ctx, s.gatewayAddr(ctx))
	}
	if err != nil {
		s.log.Warn("reconnect failed", "err", fmt.Errorf("%w: %v", ErrConnect, err))
		s.scheduleReconnect(rs)
		return
	}

	s.RateLimiter.Reset()
	rs.conn = conn
	s.state.Store(int32(StateAwaitingHello))
}

// teardown stops heartbeat supervision, closes the socket and releases
// the read loop. Safe to call with the socket already gone.
func (s *Session) teardown(rs *runState, closeCode int) {
	rs.hb.stop()
	rs.hb = nil

	s.connMu.Lock()
	ws := s.wsConn
	s.wsConn = nil
	s.connMu.Unlock()

	if ws != nil {
		s.socketMutex.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeCode, ""), time.Now().Add(time.Second))
		s.socketMutex.Unlock()
		_ = ws.Close()
	}

	if rs.conn != nil {
		close(rs.conn.done)
		rs.conn = nil
	}
}

func (s *Session) emitDisconnect(code int, err error, reconnecting bool) {
	d := &Disconnect{Code: code, Err: err, Reconnect: reconnecting}
	if err != nil {
		d.Reason = err.Error()
	}
	s.dispatcher.emit(&Event{Type: EventDisconnect, Struct: d})
}

// send encodes and writes one outbound frame through the rate limiter.
func (s *Session) send(ctx context.Context, op int, data interface{}) error {
	b, err := encodeFrame(op, data)
	if err != nil {
		return err
	}
	return s.write(ctx, b, false)
}

func (s *Session) write(ctx context.Context, frame []byte, heartbeat bool) error {
	s.connMu.RLock()
	ws := s.wsConn
	s.connMu.RUnlock()
	if ws == nil {
		return ErrNotConnected
	}

	var err error
	if heartbeat {
		err = s.RateLimiter.WaitHeartbeat(ctx)
	} else {
		err = s.RateLimiter.Wait(ctx)
	}
	if err != nil {
		return err
	}
	defer s.RateLimiter.Unlock()

	s.socketMutex.Lock()
	defer s.socketMutex.Unlock()
	return ws.WriteMessage(websocket.TextMessage, frame)
}

// UpdateStatus sends a presence update. Pass-through: not part of the
// connection state machine.
func (s *Session) UpdateStatus(ctx context.Context, status string, activities ...*Activity) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	if activities == nil {
		activities = []*Activity{}
	}
	return s.send(ctx, OpStatusUpdate, statusUpdateData{
		Status:     status,
		Activities: activities,
	})
}

// RequestGuildMembers asks the gateway to stream member chunks for a
// guild. Results arrive as ordinary dispatch events.
func (s *Session) RequestGuildMembers(ctx context.Context, guildID, query string, limit int) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return s.send(ctx, OpRequestGuildMembers, requestGuildMembersData{
		GuildID: guildID,
		Query:   query,
		Limit:   limit,
	})
}
