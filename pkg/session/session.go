// Package session orchestrates one room's chat session: it gates the
// connection on server-verified membership, composes outgoing protocol
// frames, and owns the mention-suggestion and member-pagination state.
// One Session per room; nothing here is process-global.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kritsw/chat-session/pkg/conn"
	"github.com/kritsw/chat-session/pkg/localid"
	"github.com/kritsw/chat-session/pkg/model"
	"github.com/kritsw/chat-session/pkg/rest"
	"github.com/kritsw/chat-session/pkg/store"
)

type MembershipState string

const (
	MembershipUnknown   MembershipState = "unknown"
	MembershipMember    MembershipState = "member"
	MembershipNonMember MembershipState = "non_member"
)

var (
	ErrNotMember    = errors.New("not a member of this room")
	ErrJoinRejected = errors.New("join request rejected")
)

const defaultTypingInterval = 3 * time.Second

// Conn is what the session needs from the connection manager. The raw
// socket never crosses this boundary.
type Conn interface {
	Connect(ctx context.Context, roomID string) error
	Disconnect()
	Send(v any) bool
	State() conn.State
}

type Config struct {
	RoomID string
	// User is the local identity used for optimistic echoes.
	User  model.Author
	Rest  *rest.Client
	Conn  Conn
	Store *store.Store

	Logger         *log.Logger
	TypingInterval time.Duration
	MemberLimit    int
}

type Session struct {
	roomID string
	user   model.Author
	rest   *rest.Client
	conn   Conn
	store  *store.Store
	logger *log.Logger

	typingInterval time.Duration
	memberLimit    int

	mu             sync.Mutex
	membership     MembershipState
	started        bool
	members        model.MembersPage
	loadingMembers bool
	membersLoaded  bool
	lastTyping     time.Time

	now   func() time.Time
	newID func() string
}

func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = defaultTypingInterval
	}
	if cfg.MemberLimit <= 0 {
		cfg.MemberLimit = defaultMemberLimit
	}
	return &Session{
		roomID:         cfg.RoomID,
		user:           cfg.User,
		rest:           cfg.Rest,
		conn:           cfg.Conn,
		store:          cfg.Store,
		logger:         cfg.Logger,
		typingInterval: cfg.TypingInterval,
		memberLimit:    cfg.MemberLimit,
		membership:     MembershipUnknown,
		now:            time.Now,
		newID:          func() string { return localid.LocalPrefix + uuid.NewString() },
	}
}

func (s *Session) RoomID() string        { return s.roomID }
func (s *Session) Store() *store.Store   { return s.store }
func (s *Session) ConnState() conn.State { return s.conn.State() }

func (s *Session) Membership() MembershipState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.membership
}

// RefreshMembership asks the server whether we belong to the room. A
// failed check counts as non-member until a later successful one.
func (s *Session) RefreshMembership(ctx context.Context) (MembershipState, error) {
	info, err := s.rest.Room(ctx, s.roomID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.membership = MembershipNonMember
		return s.membership, fmt.Errorf("membership check: %w", err)
	}
	if info.IsMember {
		s.membership = MembershipMember
	} else {
		s.membership = MembershipNonMember
	}
	return s.membership, nil
}

// Start runs the connect-on-open path: membership check, then connect
// if and only if we are a member. It fires at most once per session
// instance; later calls are no-ops even if the first attempt failed,
// matching the one-shot auto-connect the UI expects.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	return s.connectIfMember(ctx)
}

// Join requests room membership, then re-runs the membership check so
// the local flag always reflects server truth, and connects on
// success.
func (s *Session) Join(ctx context.Context) error {
	res, err := s.rest.Join(ctx, s.roomID)
	if err != nil {
		s.mu.Lock()
		s.membership = MembershipNonMember
		s.mu.Unlock()
		return fmt.Errorf("join room: %w", err)
	}
	if !res.Success {
		return ErrJoinRejected
	}
	return s.connectIfMember(ctx)
}

func (s *Session) connectIfMember(ctx context.Context) error {
	state, err := s.RefreshMembership(ctx)
	if err != nil {
		return err
	}
	if state != MembershipMember {
		return ErrNotMember
	}
	return s.conn.Connect(ctx, s.roomID)
}

// SendText trims and sends plain text, echoing it into the store
// optimistically first. No-op (false) when the input is empty, we are
// not a member, or the connection is not open.
func (s *Session) SendText(text string) bool {
	text = strings.TrimSpace(text)
	if !s.canSend(text) {
		return false
	}
	s.store.Apply(s.optimistic(text, nil))
	return s.conn.Send(text)
}

// SendReply encodes a reply as the "/reply {targetId} {body}" text
// command. The connection layer treats it as opaque text.
func (s *Session) SendReply(targetID, body string) bool {
	body = strings.TrimSpace(body)
	if targetID == "" || !s.canSend(body) {
		return false
	}
	var rt *model.ReplyTarget
	if target, ok := s.store.Get(targetID); ok {
		rt = &model.ReplyTarget{ID: target.ID, Body: target.Body, Author: target.Author}
	} else {
		rt = &model.ReplyTarget{ID: targetID}
	}
	s.store.Apply(s.optimistic(body, rt))
	return s.conn.Send(fmt.Sprintf("/reply %s %s", targetID, body))
}

// Unsend tombstones the message locally right away, then sends the
// "/unsend {id}" command. The tombstone is not rolled back if the
// command fails; the return value is the only failure signal.
func (s *Session) Unsend(id string) bool {
	if id == "" {
		return false
	}
	s.store.MarkDeleted(id)
	return s.conn.Send("/unsend " + id)
}

// NotifyTyping relays a typing indicator, debounced to at most one
// frame per interval. The debounce window only starts when a frame is
// actually sent, so calls while disconnected don't suppress the first
// indicator after reconnecting. Expiry of the indicator is the
// server's job.
func (s *Session) NotifyTyping() bool {
	if s.Membership() != MembershipMember || s.conn.State().Phase != conn.PhaseOpen {
		return false
	}
	s.mu.Lock()
	now := s.now()
	if now.Sub(s.lastTyping) < s.typingInterval {
		s.mu.Unlock()
		return false
	}
	s.lastTyping = now
	s.mu.Unlock()

	return s.conn.Send(model.Envelope{Type: "typing", Payload: map[string]any{"user": s.user}})
}

// Close tears the session down: disconnect, clear the message list.
// Safe to call more than once.
func (s *Session) Close() {
	s.conn.Disconnect()
	s.store.Clear()
}

func (s *Session) canSend(text string) bool {
	if text == "" {
		return false
	}
	if s.Membership() != MembershipMember {
		return false
	}
	return s.conn.State().Phase == conn.PhaseOpen
}

func (s *Session) optimistic(body string, rt *model.ReplyTarget) model.Message {
	return model.Message{
		ID:          s.newID(),
		Kind:        model.KindText,
		Author:      s.user,
		Timestamp:   s.now().UTC().Format(time.RFC3339),
		Body:        body,
		ReplyTarget: rt,
		Optimistic:  true,
	}
}
