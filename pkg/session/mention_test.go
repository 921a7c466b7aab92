package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kritsw/chat-session/pkg/conn"
	"github.com/kritsw/chat-session/pkg/model"
)

func TestMentionQuery(t *testing.T) {
	cases := []struct {
		input  string
		query  string
		active bool
	}{
		{"hello @bo", "bo", true},
		{"@", "", true},
		{"hello @", "", true},
		{"hello", "", false},
		{"a@b.com", "", false},
		{"hello @bob done", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		query, active := MentionQuery(tc.input)
		require.Equal(t, tc.active, active, tc.input)
		require.Equal(t, tc.query, query, tc.input)
	}
}

func TestMentionAllToken(t *testing.T) {
	c := newStubConn(conn.PhaseIdle)
	s, _ := newTestSession(t, &fakeBackend{isMember: true, members: []model.RoomMember{
		{ID: "u2", Username: "bob"},
		{ID: "u3", Username: "alice"},
	}}, c)
	require.NoError(t, s.LoadMembers(context.Background(), 1, false))

	suggestions, active := s.SuggestMentions("hello @all")
	require.True(t, active)
	require.Len(t, suggestions, 1)
	require.True(t, suggestions[0].Everyone)
	require.Equal(t, MentionEveryoneID, suggestions[0].Member.ID)

	// Localized token behaves the same.
	suggestions, active = s.SuggestMentions("สวัสดี @ทุกคน")
	require.True(t, active)
	require.Len(t, suggestions, 1)
	require.True(t, suggestions[0].Everyone)
}

func TestMentionFilter(t *testing.T) {
	c := newStubConn(conn.PhaseIdle)
	s, _ := newTestSession(t, &fakeBackend{isMember: true, members: []model.RoomMember{
		{ID: "u2", Username: "bob", FirstName: "Bob"},
		{ID: "u3", Username: "bonnie", FirstName: "Bonnie"},
	}}, c)
	require.NoError(t, s.LoadMembers(context.Background(), 1, false))

	suggestions, active := s.SuggestMentions("hey @bo")
	require.True(t, active)
	require.Len(t, suggestions, 2)

	suggestions, _ = s.SuggestMentions("hey @bon")
	require.Len(t, suggestions, 1)
	require.Equal(t, "bonnie", suggestions[0].Member.Username)

	// Empty query lists everyone loaded.
	suggestions, _ = s.SuggestMentions("hey @")
	require.Len(t, suggestions, 2)
}

func TestApplyMention(t *testing.T) {
	sug := MentionSuggestion{Member: model.RoomMember{Username: "bob"}}
	require.Equal(t, "hello @bob ", ApplyMention("hello @bo", sug))
	require.Equal(t, "@bob ", ApplyMention("@", sug))

	all := MentionSuggestion{Everyone: true, Member: model.RoomMember{ID: MentionEveryoneID}}
	require.Equal(t, "hi @all ", ApplyMention("hi @al", all))

	// Not in suggestion mode: input unchanged.
	require.Equal(t, "plain text", ApplyMention("plain text", sug))
}
