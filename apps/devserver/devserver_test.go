package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kritsw/chat-session/pkg/auth"
	"github.com/kritsw/chat-session/pkg/conn"
	"github.com/kritsw/chat-session/pkg/model"
	"github.com/kritsw/chat-session/pkg/rest"
	"github.com/kritsw/chat-session/pkg/session"
	"github.com/kritsw/chat-session/pkg/store"
)

var testSecret = []byte("test_secret")

// Redis is absent in unit tests; presence/typing writes just log.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	hub := NewHub("localhost:0")
	srv := httptest.NewServer(newRouter(hub, testSecret))
	t.Cleanup(srv.Close)
	return srv
}

func loginAs(t *testing.T, base, userID string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := http.Post(base+"/login", "application/json", bytes.NewBuffer(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lr LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lr))
	require.NotEmpty(t, lr.Token)
	return lr.Token
}

func newClientSession(t *testing.T, srv *httptest.Server, userID, roomID string) (*session.Session, *store.Store) {
	t.Helper()
	token := loginAs(t, srv.URL, userID)
	tokens := auth.StaticTokens{auth.TokenKindAccess: token}
	st := store.New(roomID)
	cm := conn.New(conn.Config{
		BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Tokens:  tokens,
		Store:   st,
	})
	s := session.New(session.Config{
		RoomID: roomID,
		User:   model.Author{ID: userID, Username: userID},
		Rest:   rest.New(srv.URL, tokens),
		Conn:   cm,
		Store:  st,
	})
	t.Cleanup(s.Close)
	return s, st
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestMembershipFlow(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	s, _ := newClientSession(t, srv, "u1", "room-1")

	// Not a member yet: the gate holds and nothing connects.
	require.ErrorIs(t, s.Start(ctx), session.ErrNotMember)
	require.Equal(t, conn.PhaseIdle, s.ConnState().Phase)

	require.NoError(t, s.Join(ctx))
	require.Equal(t, session.MembershipMember, s.Membership())
	require.Equal(t, conn.PhaseOpen, s.ConnState().Phase)

	require.NoError(t, s.EnsureMembers(ctx))
	page := s.Members()
	require.Len(t, page.Items, 1)
	require.Equal(t, "u1", page.Items[0].ID)
}

func TestSendAndConfirm(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	s, st := newClientSession(t, srv, "u1", "room-1")
	require.NoError(t, s.Join(ctx))

	require.True(t, s.SendText("hello room"))

	// The server echo replaces the optimistic placeholder.
	waitFor(t, func() bool {
		for _, m := range st.Snapshot() {
			if m.Body == "hello room" && !m.Optimistic {
				return true
			}
		}
		return false
	})
	for _, m := range st.Snapshot() {
		require.False(t, m.Optimistic, "placeholder %s not reconciled", m.ID)
	}
}

func TestUnsendRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	s, st := newClientSession(t, srv, "u1", "room-1")
	require.NoError(t, s.Join(ctx))

	require.True(t, s.SendText("take this back"))

	var serverID string
	waitFor(t, func() bool {
		for _, m := range st.Snapshot() {
			if m.Body == "take this back" && !m.Optimistic {
				serverID = m.ID
				return true
			}
		}
		return false
	})

	require.True(t, s.Unsend(serverID))
	waitFor(t, func() bool {
		m, ok := st.Get(serverID)
		return ok && m.Deleted
	})
	// Tombstone, not removal.
	_, ok := st.Get(serverID)
	require.True(t, ok)
}

func TestHistoryReplayToSecondClient(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	s1, st1 := newClientSession(t, srv, "u1", "room-1")
	require.NoError(t, s1.Join(ctx))
	require.True(t, s1.SendText("for the record"))
	waitFor(t, func() bool {
		for _, m := range st1.Snapshot() {
			if m.Body == "for the record" && !m.Optimistic {
				return true
			}
		}
		return false
	})

	s2, st2 := newClientSession(t, srv, "u2", "room-1")
	require.NoError(t, s2.Join(ctx))
	waitFor(t, func() bool {
		for _, m := range st2.Snapshot() {
			if m.Body == "for the record" {
				return true
			}
		}
		return false
	})
}

func TestWSRejectsNonMember(t *testing.T) {
	srv := newTestServer(t)
	s, _ := newClientSession(t, srv, "u1", "room-1")

	// Start checks membership first and refuses to dial.
	require.ErrorIs(t, s.Start(context.Background()), session.ErrNotMember)
	require.Equal(t, conn.PhaseIdle, s.ConnState().Phase)
}

func TestRESTRequiresToken(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/rooms/room-1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
