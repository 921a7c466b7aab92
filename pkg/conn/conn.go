// Package conn maintains exactly one live websocket per room and
// guarantees inbound frames reach the ingestion store in receipt
// order. Connection lifecycle is an explicit state machine; reconnect
// timers are scheduled transitions, not loose callbacks.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kritsw/chat-session/pkg/auth"
	"github.com/kritsw/chat-session/pkg/localid"
	"github.com/kritsw/chat-session/pkg/model"
	"github.com/kritsw/chat-session/pkg/store"
	"github.com/kritsw/chat-session/pkg/wire"
)

type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseConnecting   Phase = "connecting"
	PhaseOpen         Phase = "open"
	PhaseClosing      Phase = "closing"
	PhaseClosed       Phase = "closed"
	PhaseReconnecting Phase = "reconnecting"
	// PhaseFailed is terminal: reconnect attempts are exhausted (or the
	// token was rejected) and only a manual Connect leaves it.
	PhaseFailed Phase = "failed"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size; history backfills can be large.
	maxFrameSize = 64 * 1024

	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxReconnects  = 5
	DefaultReconnectDelay = 2 * time.Second
)

// State is the externally visible connection state.
type State struct {
	Phase     Phase
	Attempts  int
	LastError *Error
}

type Config struct {
	// BaseURL is the websocket origin, e.g. "ws://localhost:8080".
	BaseURL string
	Tokens  auth.TokenSource
	Store   *store.Store

	Logger         *log.Logger
	ConnectTimeout time.Duration
	MaxReconnects  int
	ReconnectDelay time.Duration
}

// Manager owns the socket for one room. The handle never leaves this
// package; everything above talks to it through methods.
type Manager struct {
	cfg  Config
	norm *wire.Normalizer

	mu       sync.Mutex
	writeMu  sync.Mutex
	phase    Phase
	conn     *websocket.Conn
	roomID   string
	attempts int
	lastErr  *Error
	onState  func(State)
	onTyping func(model.Author)
	retryTmr *time.Timer
	gen      uint64
	done     chan struct{}
}

func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = DefaultMaxReconnects
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	ids, err := localid.NewNode(int64(os.Getpid()) & 1023)
	if err != nil {
		ids, _ = localid.NewNode(1)
	}
	return &Manager{
		cfg:   cfg,
		norm:  &wire.Normalizer{IDs: ids},
		phase: PhaseIdle,
	}
}

// OnState registers a listener for phase/error transitions. Invoked
// outside the manager's lock.
func (m *Manager) OnState(fn func(State)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

// OnTyping registers a listener for relayed typing indicators. Typing
// frames are ephemeral; they never enter the store. Invoked from the
// read pump, outside the manager's lock.
func (m *Manager) OnTyping(fn func(model.Author)) {
	m.mu.Lock()
	m.onTyping = fn
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{Phase: m.phase, Attempts: m.attempts, LastError: m.lastErr}
}

// Connect opens the socket for roomID. Re-entrant calls while already
// connecting or open are no-ops, so rapid repeated calls cannot open
// two sockets. A manual call after Failed resets the attempt counter.
func (m *Manager) Connect(ctx context.Context, roomID string) error {
	m.mu.Lock()
	switch m.phase {
	case PhaseConnecting, PhaseOpen:
		m.mu.Unlock()
		return nil
	case PhaseReconnecting:
		// Manual connect supersedes the pending scheduled retry.
		if m.retryTmr != nil {
			m.retryTmr.Stop()
			m.retryTmr = nil
		}
		m.attempts = 0
	case PhaseFailed:
		m.attempts = 0
	}
	m.roomID = roomID
	m.setPhaseLocked(PhaseConnecting)
	fn, st := m.notifyLocked()
	m.mu.Unlock()
	notify(fn, st)

	if cerr := m.dial(ctx); cerr != nil {
		m.connectionLost(m.generation(), cerr)
		return cerr
	}
	return nil
}

// dial performs the token check, the handshake and pump start-up. It
// assumes phase is already Connecting.
func (m *Manager) dial(ctx context.Context) *Error {
	tok, ok := m.cfg.Tokens.Token(auth.TokenKindAccess)
	if !ok {
		return authError(auth.ErrTokenMissing)
	}
	// Expired tokens are detectable locally; fail before any network
	// round-trip.
	if err := auth.CheckExpiry(tok); err != nil {
		return authError(err)
	}

	m.mu.Lock()
	roomID := m.roomID
	m.mu.Unlock()

	u := fmt.Sprintf("%s/chat/ws/%s/?token=%s",
		strings.TrimRight(m.cfg.BaseURL, "/"),
		url.PathEscape(roomID),
		url.QueryEscape(tok))

	// HandshakeTimeout is the connection watchdog: no open within the
	// window forces the dial down and surfaces a timeout.
	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.ConnectTimeout}
	c, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if isTimeout(err) {
			return timeoutError(err)
		}
		return transportError(err)
	}

	m.mu.Lock()
	if m.phase != PhaseConnecting {
		// Disconnect raced the handshake; drop the fresh socket.
		m.mu.Unlock()
		c.Close()
		return transportError(errors.New("connection torn down during handshake"))
	}
	m.conn = c
	m.gen++
	gen := m.gen
	m.done = make(chan struct{})
	done := m.done
	m.attempts = 0
	m.lastErr = nil
	m.setPhaseLocked(PhaseOpen)
	fn, st := m.notifyLocked()
	m.mu.Unlock()
	notify(fn, st)

	go m.readPump(c, gen)
	go m.heartbeat(c, done)
	return nil
}

// Disconnect is idempotent and safe to call from teardown even if the
// manager never connected. Pumps are detached (generation bump) before
// the socket is closed so a closing socket cannot fire into a
// torn-down store.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.retryTmr != nil {
		m.retryTmr.Stop()
		m.retryTmr = nil
	}
	c := m.conn
	m.conn = nil
	m.gen++
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	m.attempts = 0
	m.lastErr = nil
	m.setPhaseLocked(PhaseClosing)
	fnClosing, stClosing := m.notifyLocked()
	m.mu.Unlock()
	notify(fnClosing, stClosing)

	if c != nil {
		m.writeMu.Lock()
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		m.writeMu.Unlock()
		c.Close()
	}

	m.mu.Lock()
	var fn func(State)
	var st State
	if m.phase == PhaseClosing {
		m.setPhaseLocked(PhaseIdle)
		fn, st = m.notifyLocked()
	}
	m.mu.Unlock()
	notify(fn, st)
}

// Send serializes v into the wire envelope and writes it. Plain
// strings are wrapped as {"type":"message","payload":{"message":..}};
// anything else is assumed to be already enveloped. If the socket is
// not open, one synchronous reconnect is attempted. Failure is
// reported by the return value, never by panic or error.
func (m *Manager) Send(v any) bool {
	m.mu.Lock()
	c := m.conn
	open := m.phase == PhaseOpen
	roomID := m.roomID
	m.mu.Unlock()

	if !open || c == nil {
		if roomID == "" {
			return false
		}
		if err := m.Connect(context.Background(), roomID); err != nil {
			return false
		}
		m.mu.Lock()
		c = m.conn
		open = m.phase == PhaseOpen
		m.mu.Unlock()
		if !open || c == nil {
			return false
		}
	}

	var payload any = v
	if text, ok := v.(string); ok {
		payload = model.WrapText(text)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		m.cfg.Logger.Printf("send: marshal failed: %v", err)
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteMessage(websocket.TextMessage, raw); err != nil {
		m.cfg.Logger.Printf("send: write failed: %v", err)
		return false
	}
	return true
}

// readPump delivers frames to the store in receipt order. Any read
// error ends the connection and hands control to the reconnect policy.
func (m *Manager) readPump(c *websocket.Conn, gen uint64) {
	defer c.Close()
	c.SetReadLimit(maxFrameSize)
	c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.cfg.Logger.Printf("read: %v", err)
			}
			m.connectionLost(gen, transportError(err))
			return
		}
		m.dispatch(raw)
	}
}

// dispatch classifies one raw frame and applies it. Parse failures are
// logged and swallowed; they never terminate the session.
func (m *Manager) dispatch(raw []byte) {
	f := m.norm.Classify(raw)
	switch f.Kind {
	case wire.FrameUnsend:
		m.cfg.Store.MarkDeleted(f.UnsendID)
	case wire.FrameMessages:
		for _, msg := range f.Messages {
			m.cfg.Store.Apply(msg)
		}
	case wire.FrameTyping:
		m.mu.Lock()
		fn := m.onTyping
		m.mu.Unlock()
		if fn != nil {
			fn(f.Author)
		}
	default:
		m.cfg.Logger.Printf("dropping unparseable frame: %.80s", raw)
	}
}

// heartbeat pings on a fixed interval while open so silent server-side
// disconnects surface as read-deadline errors in the pump.
func (m *Manager) heartbeat(c *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			m.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// connectionLost runs the reconnection policy for a connection (or
// connection attempt) identified by gen. Stale generations are
// ignored, so a socket closed by Disconnect cannot re-trigger it.
func (m *Manager) connectionLost(gen uint64, cerr *Error) {
	m.mu.Lock()
	if gen != m.gen || m.phase == PhaseIdle || m.phase == PhaseClosing {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	m.lastErr = cerr
	m.attempts++
	m.setPhaseLocked(PhaseClosed)
	fnClosed, stClosed := m.notifyLocked()

	switch {
	case cerr.Kind == ErrorAuth:
		// Fatal: surfaced for re-authentication, never retried.
		m.setPhaseLocked(PhaseFailed)
	case m.attempts >= m.cfg.MaxReconnects:
		m.setPhaseLocked(PhaseFailed)
	default:
		m.setPhaseLocked(PhaseReconnecting)
		// Linear growth: bounded and monotonically non-decreasing.
		delay := m.cfg.ReconnectDelay * time.Duration(m.attempts)
		m.retryTmr = time.AfterFunc(delay, m.retry)
	}
	fn, st := m.notifyLocked()
	m.mu.Unlock()
	notify(fnClosed, stClosed)
	notify(fn, st)
}

func (m *Manager) retry() {
	m.mu.Lock()
	if m.phase != PhaseReconnecting {
		m.mu.Unlock()
		return
	}
	m.retryTmr = nil
	m.setPhaseLocked(PhaseConnecting)
	fn, st := m.notifyLocked()
	gen := m.gen
	m.mu.Unlock()
	notify(fn, st)

	if cerr := m.dial(context.Background()); cerr != nil {
		m.connectionLost(gen, cerr)
	}
}

func (m *Manager) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

func (m *Manager) setPhaseLocked(p Phase) { m.phase = p }

func (m *Manager) notifyLocked() (func(State), State) {
	return m.onState, State{Phase: m.phase, Attempts: m.attempts, LastError: m.lastErr}
}

func notify(fn func(State), st State) {
	if fn != nil {
		fn(st)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
