package session

import (
	"strings"

	"github.com/kritsw/chat-session/pkg/model"
)

// MentionEveryoneID is the synthetic member id for "@all".
const MentionEveryoneID = "all"

// Tokens that mean "mention everyone" instead of a member search.
var mentionAllTokens = map[string]bool{
	"all":   true,
	"ทุกคน": true,
}

type MentionSuggestion struct {
	Everyone bool
	Member   model.RoomMember
}

// MentionQuery reports whether the input ends in an active mention
// token ("@word", where word may be empty) and returns the query part.
func MentionQuery(input string) (string, bool) {
	token := input
	if i := strings.LastIndexAny(input, " \t\n"); i >= 0 {
		token = input[i+1:]
	}
	if !strings.HasPrefix(token, "@") {
		return "", false
	}
	return token[1:], true
}

// SuggestMentions returns the suggestion list for the current input,
// or false when suggestion mode is not active. The "all" token (and
// its localized equivalent) short-circuits to a single synthetic
// everyone entry regardless of the loaded member list.
func (s *Session) SuggestMentions(input string) ([]MentionSuggestion, bool) {
	query, active := MentionQuery(input)
	if !active {
		return nil, false
	}
	if mentionAllTokens[strings.ToLower(query)] {
		return []MentionSuggestion{{
			Everyone: true,
			Member:   model.RoomMember{ID: MentionEveryoneID, Username: MentionEveryoneID, FirstName: "Everyone"},
		}}, true
	}

	s.mu.Lock()
	members := append([]model.RoomMember(nil), s.members.Items...)
	s.mu.Unlock()

	lower := strings.ToLower(query)
	var out []MentionSuggestion
	for _, m := range members {
		if query == "" || matchesMention(m, lower) {
			out = append(out, MentionSuggestion{Member: m})
		}
	}
	return out, true
}

// ApplyMention replaces the trailing "@word" token with "@username "
// (trailing space), which also exits suggestion mode.
func ApplyMention(input string, sug MentionSuggestion) string {
	query, active := MentionQuery(input)
	if !active {
		return input
	}
	handle := sug.Member.Username
	if sug.Everyone {
		handle = MentionEveryoneID
	}
	cut := len(input) - len(query) - 1
	return input[:cut] + "@" + handle + " "
}

func matchesMention(m model.RoomMember, lowerQuery string) bool {
	return strings.HasPrefix(strings.ToLower(m.Username), lowerQuery) ||
		strings.HasPrefix(strings.ToLower(m.FirstName), lowerQuery) ||
		strings.HasPrefix(strings.ToLower(m.LastName), lowerQuery)
}
