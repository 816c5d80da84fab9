package amaterasu

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Session is the gateway session engine: it owns the socket, the
// heartbeat supervision, the resume state and the event cache. One
// Session is one logical connection to the platform; everything it owns
// is mutated on a single run goroutine.
type Session struct {
	token         string
	intents       int64
	properties    IdentifyProperties
	gateway       string // cached gateway URL, refreshed when stale
	autoReconnect bool
	compress      bool

	dialer      *websocket.Dialer
	log         *slog.Logger
	rest        *RestClient
	RateLimiter RateLimiter

	cache      *State
	dispatcher *dispatcher

	state atomic.Int32 // ConnectionState, written by the run goroutine only

	// Session identity. sessionID/resumeURL are written by the run
	// goroutine and read through public accessors, so sessionMu guards
	// them; sequence is atomic for the same reason.
	sessionMu         sync.RWMutex
	sessionID         string
	resumeURL         string
	sequence          atomic.Int64
	heartbeatInterval time.Duration

	// connMu guards the socket pointer; frame writes additionally
	// serialize on socketMutex so a heartbeat never interleaves with a
	// caller's status update mid-frame.
	connMu      sync.RWMutex
	wsConn      *websocket.Conn
	socketMutex sync.Mutex

	ctrl     chan ctrlMsg
	stop     chan struct{} // closed by Disconnect; aborts in-flight dials
	stopOnce sync.Once
	runDone  chan struct{}
	termErr  error // terminal error, readable after runDone closes
}

// Option configures a Session at construction.
type Option func(*Session)

func WithIntents(intents int64) Option {
	return func(s *Session) { s.intents = intents }
}

func WithIdentifyProperties(p IdentifyProperties) Option {
	return func(s *Session) { s.properties = p }
}

// WithGatewayURL pins the gateway URL instead of discovering it through
// the request service.
func WithGatewayURL(url string) Option {
	return func(s *Session) { s.gateway = url }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithRestClient hands the engine its request-service collaborator, used
// for gateway URL discovery and cache-miss fallbacks.
func WithRestClient(rc *RestClient) Option {
	return func(s *Session) { s.rest = rc }
}

func WithAutoReconnect(enabled bool) Option {
	return func(s *Session) { s.autoReconnect = enabled }
}

func WithCompression(enabled bool) Option {
	return func(s *Session) { s.compress = enabled }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

func WithRateLimiter(rl RateLimiter) Option {
	return func(s *Session) { s.RateLimiter = rl }
}

// New builds a session engine with all dependencies passed in up front.
// Nothing is lazily constructed later.
func New(token string, opts ...Option) *Session {
	s := &Session{
		token:         token,
		autoReconnect: true,
		dialer:        websocket.DefaultDialer,
		log:           slog.Default(),
		cache:         NewState(),
		properties: IdentifyProperties{
			OS:      "linux",
			Browser: "amaterasu",
			Device:  "amaterasu",
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.RateLimiter == nil {
		s.RateLimiter = NewRateLimiter()
	}
	s.dispatcher = newDispatcher(s.log)
	return s
}

// State returns the cache store for read access.
func (s *Session) State() *State {
	return s.cache
}

// Rest returns the request-service client, nil when none was configured.
func (s *Session) Rest() *RestClient {
	return s.rest
}

// ConnState reports the connection manager's current state.
func (s *Session) ConnState() ConnectionState {
	return ConnectionState(s.state.Load())
}

// IsConnected reports whether the handshake has completed and dispatches
// are flowing.
func (s *Session) IsConnected() bool {
	return s.ConnState() == StateConnected
}

// Sequence returns the last dispatch sequence number seen this session.
func (s *Session) Sequence() int64 {
	return s.sequence.Load()
}

// SessionID returns the platform-assigned session id, empty before the
// first ready.
func (s *Session) SessionID() string {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.sessionID
}

// setSessionInfo records the identity a ready payload assigned.
func (s *Session) setSessionInfo(id, resumeURL string) {
	s.sessionMu.Lock()
	s.sessionID = id
	s.resumeURL = resumeURL
	s.sessionMu.Unlock()
}

// resumeGatewayURL returns the resume endpoint from the last ready,
// empty when none exists.
func (s *Session) resumeGatewayURL() string {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.resumeURL
}

// On registers a handler for a dispatch event name, in addition to any
// already registered for it. Handlers run synchronously on the engine's
// run goroutine, in registration order, for the engine's lifetime.
func (s *Session) On(event string, h Handler) {
	s.dispatcher.on(event, h)
}

// buildIdentify assembles the fresh-session handshake payload.
func (s *Session) buildIdentify() identifyData {
	return identifyData{
		Token:      s.token,
		Intents:    s.intents,
		Compress:   s.compress,
		Properties: s.properties,
	}
}

// buildResume assembles the re-attach payload. It fails when no prior
// session id or sequence exists; the caller falls back to identify.
func (s *Session) buildResume() (resumeData, error) {
	id := s.SessionID()
	seq := s.sequence.Load()
	if id == "" || seq == 0 {
		return resumeData{}, errNoResumeState
	}
	return resumeData{
		Token:     s.token,
		SessionID: id,
		Sequence:  seq,
	}, nil
}

// clearSession wipes the resume state. Done when the gateway signals the
// session is gone for good, before the next identify is built.
func (s *Session) clearSession() {
	s.sessionMu.Lock()
	s.sessionID = ""
	s.resumeURL = ""
	s.sessionMu.Unlock()
	s.sequence.Store(0)
	s.heartbeatInterval = 0
}

// resumable reports whether a resume attempt is even possible.
func (s *Session) resumable() bool {
	return s.SessionID() != "" && s.sequence.Load() > 0
}
